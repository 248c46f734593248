package catalog

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/rdsdata"
	rdsdatatypes "github.com/aws/aws-sdk-go-v2/service/rdsdata/types"
	"github.com/rs/zerolog/log"

	"github.com/fpang/item-identify/internal/match"
)

// TableReferenceImages holds the embedded reference photos.
const TableReferenceImages = "reference_images"

// ExecuteStatementAPI is the subset of the RDS Data API client used here.
type ExecuteStatementAPI interface {
	ExecuteStatement(ctx context.Context, params *rdsdata.ExecuteStatementInput, optFns ...func(*rdsdata.Options)) (*rdsdata.ExecuteStatementOutput, error)
}

// DataAPIIndex implements Index over Aurora PostgreSQL with pgvector,
// reached through the RDS Data API.
type DataAPIIndex struct {
	client     ExecuteStatementAPI
	clusterARN string
	secretARN  string
	database   string
}

var _ Index = (*DataAPIIndex)(nil)

func NewDataAPIIndex(client ExecuteStatementAPI, clusterARN, secretARN, database string) *DataAPIIndex {
	return &DataAPIIndex{
		client:     client,
		clusterARN: clusterARN,
		secretARN:  secretARN,
		database:   database,
	}
}

func formatVector(emb []float32) string {
	if len(emb) == 0 {
		return "[]"
	}
	var b strings.Builder
	b.WriteByte('[')
	for i, v := range emb {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatFloat(float64(v), 'f', -1, 32))
	}
	b.WriteByte(']')
	return b.String()
}

func (x *DataAPIIndex) exec(ctx context.Context, sql string, params []rdsdatatypes.SqlParameter) (*rdsdata.ExecuteStatementOutput, error) {
	return x.client.ExecuteStatement(ctx, &rdsdata.ExecuteStatementInput{
		ResourceArn:           aws.String(x.clusterARN),
		SecretArn:             aws.String(x.secretARN),
		Database:              aws.String(x.database),
		Sql:                   aws.String(sql),
		Parameters:            params,
		IncludeResultMetadata: true,
	})
}

func stringParam(name, value string) rdsdatatypes.SqlParameter {
	return rdsdatatypes.SqlParameter{Name: aws.String(name), Value: &rdsdatatypes.FieldMemberStringValue{Value: value}}
}

func (x *DataAPIIndex) Search(ctx context.Context, category string, vector []float32, k int) ([]match.ImageHit, error) {
	if len(vector) == 0 {
		return nil, fmt.Errorf("%w: search %s: empty vector", ErrIndexQuery, category)
	}
	if k <= 0 {
		k = match.MaxHits
	}
	sql := fmt.Sprintf(`SELECT family_id, category, brand, family_name, image_path,
		1 - (embedding <=> :emb::vector) AS similarity
		FROM %s
		WHERE category = :category AND NOT is_bootstrap AND embedding IS NOT NULL
		ORDER BY embedding <=> :emb::vector
		LIMIT :k`, TableReferenceImages)
	params := []rdsdatatypes.SqlParameter{
		stringParam("emb", formatVector(vector)),
		stringParam("category", category),
		{Name: aws.String("k"), Value: &rdsdatatypes.FieldMemberLongValue{Value: int64(k)}},
	}

	result, err := x.exec(ctx, sql, params)
	if err != nil {
		log.Error().Err(err).Str("category", category).Msg("Similarity search failed")
		return nil, fmt.Errorf("%w: search %s: %w", ErrIndexQuery, category, err)
	}

	hits := make([]match.ImageHit, 0, len(result.Records))
	for _, row := range rows(result) {
		hit := match.ImageHit{
			FamilyID:   asString(row["family_id"]),
			Category:   asString(row["category"]),
			Brand:      asString(row["brand"]),
			FamilyName: asString(row["family_name"]),
			ImagePath:  asString(row["image_path"]),
			Similarity: clamp01(asFloat(row["similarity"])),
		}
		if hit.Category == "" {
			hit.Category = category
		}
		hits = append(hits, hit)
	}
	log.Debug().Str("category", category).Int("hits", len(hits)).Msg("Similarity search complete")
	return hits, nil
}

func (x *DataAPIIndex) CategoryImageCount(ctx context.Context, category string) (int, error) {
	sql := fmt.Sprintf(`SELECT COUNT(*) AS n FROM %s
		WHERE category = :category AND NOT is_bootstrap AND embedding IS NOT NULL`, TableReferenceImages)
	result, err := x.exec(ctx, sql, []rdsdatatypes.SqlParameter{stringParam("category", category)})
	if err != nil {
		return 0, fmt.Errorf("%w: count %s: %w", ErrIndexQuery, category, err)
	}
	r := rows(result)
	if len(r) == 0 {
		return 0, nil
	}
	return int(asFloat(r[0]["n"])), nil
}

func (x *DataAPIIndex) Categories(ctx context.Context) ([]string, error) {
	sql := fmt.Sprintf(`SELECT DISTINCT category FROM %s
		WHERE NOT is_bootstrap AND embedding IS NOT NULL ORDER BY category`, TableReferenceImages)
	result, err := x.exec(ctx, sql, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: list categories: %w", ErrIndexQuery, err)
	}
	var out []string
	for _, row := range rows(result) {
		if c := asString(row["category"]); c != "" {
			out = append(out, c)
		}
	}
	return out, nil
}

// rows converts Data API records into column-name keyed maps.
func rows(result *rdsdata.ExecuteStatementOutput) []map[string]interface{} {
	out := make([]map[string]interface{}, 0, len(result.Records))
	for _, rec := range result.Records {
		row := make(map[string]interface{}, len(rec))
		for i, col := range result.ColumnMetadata {
			if i >= len(rec) {
				break
			}
			name := aws.ToString(col.Name)
			switch v := rec[i].(type) {
			case *rdsdatatypes.FieldMemberStringValue:
				row[name] = v.Value
			case *rdsdatatypes.FieldMemberLongValue:
				row[name] = v.Value
			case *rdsdatatypes.FieldMemberDoubleValue:
				row[name] = v.Value
			case *rdsdatatypes.FieldMemberBooleanValue:
				row[name] = v.Value
			case *rdsdatatypes.FieldMemberIsNull:
				row[name] = nil
			default:
				row[name] = v
			}
		}
		out = append(out, row)
	}
	return out
}

func asString(v interface{}) string {
	s, _ := v.(string)
	return s
}

// asFloat accepts the numeric shapes the Data API returns. NUMERIC columns
// arrive as strings.
func asFloat(v interface{}) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int64:
		return float64(n)
	case string:
		f, err := strconv.ParseFloat(n, 64)
		if err != nil {
			return 0
		}
		return f
	}
	return 0
}

func clamp01(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}
