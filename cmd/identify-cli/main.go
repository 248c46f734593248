package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/fpang/item-identify/internal/cli"
	"github.com/fpang/item-identify/internal/config"
	"github.com/fpang/item-identify/internal/feedback"
	"github.com/fpang/item-identify/internal/identify"
	"github.com/fpang/item-identify/internal/lambdaboot"
	"github.com/fpang/item-identify/internal/logging"
	"github.com/fpang/item-identify/internal/vision"
)

// CLI flags
var (
	categoryFlag    string
	userFlag        string
	jsonFlag        bool
	interactiveFlag bool
	sessionFlag     string
	familyFlag      string
	rulesFileFlag   string
)

var rootCmd = &cobra.Command{
	Use:   "identify-cli",
	Short: "Identify photographed items against the reference library",
	Long: `identify-cli runs the identification pipeline from a terminal, against the
same DynamoDB tables, Aurora catalog and Bedrock model as the deployed API.

Examples:
  identify-cli scan ./watch.jpg --category watches
  identify-cli scan s3://item-uploads/u1/scan.jpg --user u1 --json
  identify-cli scan ./sneaker.jpg -i
  identify-cli feedback --session 6f1d2a7e-... --family nike-air-max-90
  identify-cli check-key
  identify-cli rules --file ./rules.json`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		logging.Init()
	},
}

var scanCmd = &cobra.Command{
	Use:   "scan IMAGE",
	Short: "Identify the item in an image (local path, s3:// or https:// reference)",
	Args:  cobra.ExactArgs(1),
	RunE:  runScan,
}

var feedbackCmd = &cobra.Command{
	Use:   "feedback",
	Short: "Record the final choice for a session",
	RunE:  runFeedback,
}

var sessionCmd = &cobra.Command{
	Use:   "session ID",
	Short: "Print a stored session and its feedback",
	Args:  cobra.ExactArgs(1),
	RunE:  runSession,
}

var checkKeyCmd = &cobra.Command{
	Use:   "check-key",
	Short: "Verify the Gemini API key used for brand OCR",
	RunE:  runCheckKey,
}

var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "Validate and print the disambiguation rule table",
	RunE:  runRules,
}

func init() {
	scanCmd.Flags().StringVarP(&categoryFlag, "category", "c", "", "Category to search (default: all categories)")
	scanCmd.Flags().StringVarP(&userFlag, "user", "u", "", "User id the scan belongs to")
	scanCmd.Flags().BoolVar(&jsonFlag, "json", false, "Print the result as JSON")
	scanCmd.Flags().BoolVarP(&interactiveFlag, "interactive", "i", false, "Prompt for the correct item and record feedback")

	feedbackCmd.Flags().StringVarP(&sessionFlag, "session", "s", "", "Session id")
	feedbackCmd.Flags().StringVarP(&familyFlag, "family", "f", "", "Chosen family id")
	feedbackCmd.Flags().StringVarP(&userFlag, "user", "u", "", "User id (defaults to the session's user)")
	_ = feedbackCmd.MarkFlagRequired("session")
	_ = feedbackCmd.MarkFlagRequired("family")

	rulesCmd.Flags().StringVarP(&rulesFileFlag, "file", "f", "", "Rules file (default: built-in table)")

	rootCmd.AddCommand(scanCmd, feedbackCmd, sessionCmd, checkKeyCmd, rulesCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func build(ctx context.Context) (*lambdaboot.Components, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	awsCfg, err := lambdaboot.LoadAWS(ctx)
	if err != nil {
		return nil, err
	}
	return lambdaboot.Build(ctx, cfg, awsCfg)
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func runScan(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	ref, err := cli.ResolveImageRef(args[0])
	if err != nil {
		return err
	}

	c, err := build(ctx)
	if err != nil {
		return err
	}
	img, err := c.Loader.Load(ctx, ref)
	if err != nil {
		return err
	}

	start := time.Now()
	res, err := c.Identify.Identify(ctx, identify.Request{
		Image:    img,
		Category: categoryFlag,
		UserID:   userFlag,
	})
	if err != nil {
		return err
	}
	log.Debug().Str("elapsed", cli.FormatDurationShort(time.Since(start))).Msg("Scan complete")

	if jsonFlag {
		return printJSON(res)
	}
	cli.WriteResult(os.Stdout, res)

	if !interactiveFlag || res.SessionID == "" {
		return nil
	}
	choice, ok := cli.PromptForChoice(os.Stdin, os.Stdout, cli.Choices(res.Decision))
	if !ok {
		return nil
	}
	fb, err := c.Feedback.RecordFeedback(ctx, feedback.Request{
		SessionID:      res.SessionID,
		ChosenFamilyID: choice.FamilyID,
		UserID:         userFlag,
	})
	if err != nil {
		return err
	}
	fmt.Printf("Recorded %s: %s\n", fb.Action, fb.ChosenFamilyID)
	return nil
}

func runFeedback(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	c, err := build(ctx)
	if err != nil {
		return err
	}
	fb, err := c.Feedback.RecordFeedback(ctx, feedback.Request{
		SessionID:      sessionFlag,
		ChosenFamilyID: familyFlag,
		UserID:         userFlag,
	})
	if err != nil {
		return err
	}
	return printJSON(fb)
}

func runSession(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	c, err := build(ctx)
	if err != nil {
		return err
	}
	session, err := c.Sessions.GetSession(ctx, args[0])
	if err != nil {
		return err
	}
	if session == nil {
		return fmt.Errorf("session %s not found", args[0])
	}
	fb, err := c.Sessions.GetFeedback(ctx, args[0])
	if err != nil {
		return err
	}
	return printJSON(map[string]interface{}{"session": session, "feedback": fb})
}

func runCheckKey(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if cfg.GeminiAPIKey == "" {
		awsCfg, err := lambdaboot.LoadAWS(ctx)
		if err != nil {
			return err
		}
		if err := lambdaboot.LoadGeminiKey(ctx, ssm.NewFromConfig(awsCfg), &cfg); err != nil {
			return err
		}
	}
	client, err := vision.NewGeminiClient(ctx, cfg.GeminiAPIKey)
	if err != nil {
		return err
	}
	if err := vision.ValidateKey(ctx, client.Models, cfg.GeminiModel); err != nil {
		return err
	}
	fmt.Println("Gemini API key OK")
	return nil
}

func runRules(cmd *cobra.Command, args []string) error {
	rules, err := lambdaboot.LoadRules(rulesFileFlag)
	if err != nil {
		return err
	}
	return printJSON(rules.Rules())
}
