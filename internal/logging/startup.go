package logging

import (
	"os"
	"runtime"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// StartupLogger collects the resources and settings a binary was started
// with and emits them as one structured event. Secret values are never
// registered, only their parameter names.
type StartupLogger struct {
	name         string
	commitHash   string
	initDuration time.Duration

	tables    map[string]string
	index     map[string]string
	models    map[string]string
	ssmParams map[string]string
	features  map[string]bool
	config    map[string]string
}

// NewStartupLogger creates a StartupLogger for a binary such as
// "identify-api".
func NewStartupLogger(name string) *StartupLogger {
	return &StartupLogger{
		name:      name,
		tables:    make(map[string]string),
		index:     make(map[string]string),
		models:    make(map[string]string),
		ssmParams: make(map[string]string),
		features:  make(map[string]bool),
		config:    make(map[string]string),
	}
}

func (s *StartupLogger) CommitHash(hash string) *StartupLogger {
	s.commitHash = hash
	return s
}

// DynamoTable registers a DynamoDB table.
func (s *StartupLogger) DynamoTable(label, name string) *StartupLogger {
	s.tables[label] = name
	return s
}

// Index registers a reference index setting (cluster, database).
func (s *StartupLogger) Index(label, value string) *StartupLogger {
	s.index[label] = value
	return s
}

// Model registers a model id.
func (s *StartupLogger) Model(label, id string) *StartupLogger {
	s.models[label] = id
	return s
}

// SSMParam registers a parameter path. Only the path is logged.
func (s *StartupLogger) SSMParam(label, path string) *StartupLogger {
	s.ssmParams[label] = path
	return s
}

func (s *StartupLogger) Feature(name string, enabled bool) *StartupLogger {
	s.features[name] = enabled
	return s
}

// Config registers a non-sensitive setting.
func (s *StartupLogger) Config(key, value string) *StartupLogger {
	s.config[key] = value
	return s
}

func (s *StartupLogger) InitDuration(d time.Duration) *StartupLogger {
	s.initDuration = d
	return s
}

// Log emits the startup event at info level.
func (s *StartupLogger) Log() {
	runtimeDict := zerolog.Dict().
		Str("name", s.name).
		Str("functionName", os.Getenv("AWS_LAMBDA_FUNCTION_NAME")).
		Str("region", os.Getenv("AWS_REGION")).
		Str("goVersion", runtime.Version()).
		Str("arch", runtime.GOARCH).
		Str("logLevel", zerolog.GlobalLevel().String())
	if s.commitHash != "" {
		runtimeDict = runtimeDict.Str("commitHash", s.commitHash)
	}

	evt := log.Info().Dict("runtime", runtimeDict)
	for _, group := range []struct {
		key string
		m   map[string]string
	}{
		{"dynamoTables", s.tables},
		{"index", s.index},
		{"models", s.models},
		{"ssmParams", s.ssmParams},
		{"config", s.config},
	} {
		if len(group.m) > 0 {
			evt = evt.Dict(group.key, dictFromMap(group.m))
		}
	}
	if len(s.features) > 0 {
		d := zerolog.Dict()
		for _, k := range sortedKeys(s.features) {
			d = d.Bool(k, s.features[k])
		}
		evt = evt.Dict("features", d)
	}
	if s.initDuration > 0 {
		evt = evt.Dur("initDuration", s.initDuration)
	}
	evt.Msg("Startup complete")
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func dictFromMap(m map[string]string) *zerolog.Event {
	d := zerolog.Dict()
	for _, k := range sortedKeys(m) {
		d = d.Str(k, m[k])
	}
	return d
}
