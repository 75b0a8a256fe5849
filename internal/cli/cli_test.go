package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"coach-assessment-service/internal/catalog"
	"coach-assessment-service/internal/config"
	"coach-assessment-service/internal/engine"
	"coach-assessment-service/internal/llm"
	transport "coach-assessment-service/internal/transport/http"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const sourceCatalog = `
modules:
  - {id: sleep, name: Sleep}
questions:
  - {id: s_gate, module: sleep, prompt: "Trouble sleeping?", answerType: yes_no}
  - {id: s_depth, module: sleep, prompt: "How restless is your sleep?", answerType: scale}
groups:
  - {id: g_sleep, gatewayQuestionId: s_gate, memberQuestionIds: [s_depth], triggerValues: ["NO"]}
scoringRules:
  - {id: sleep, name: Sleep, questionIds: [s_depth], calculation: sum}
`

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestCatalogBuildWritesVersionedArtifact(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "source.yaml")
	require.NoError(t, os.WriteFile(src, []byte(sourceCatalog), 0o644))
	dst := filepath.Join(dir, "out", "catalog.json")

	out, err := run(t, "catalog", "build", src, dst)
	require.NoError(t, err)
	assert.Contains(t, out, "1 modules, 2 questions")

	a, err := catalog.LoadFile(dst)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(a.Version, "v-"))
	assert.Equal(t, []string{"no"}, a.Groups[0].TriggerValues)
	assert.Equal(t, "g_sleep", a.Questions[0].GroupID)

	_, err = run(t, "catalog", "validate", dst)
	require.NoError(t, err)
}

func TestCatalogValidateReportsProblems(t *testing.T) {
	src := filepath.Join(t.TempDir(), "broken.yaml")
	require.NoError(t, os.WriteFile(src, []byte(`
modules: [{id: sleep}]
questions:
  - {id: s1, module: nowhere, answerType: scale}
`), 0o644))

	out, err := run(t, "catalog", "validate", src)
	var verr *catalog.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, out, "  - ")
}

func TestTokenCommandIssuesVerifiableToken(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("auth:\n  jwtSecret: s3cret\n  issuer: coach-test\n"), 0o644))

	out, err := run(t, "--config", cfgPath, "token", "client-7", "--ttl", "5m")
	require.NoError(t, err)

	clientID, err := transport.NewJWTIdentity("s3cret", "coach-test").ClientIDFromToken(strings.TrimSpace(out))
	require.NoError(t, err)
	assert.Equal(t, "client-7", clientID)
}

func TestLocalArtifactAppliesSeverityOverride(t *testing.T) {
	cfg := config.Defaults()
	cfg.Engine.SeverityThreshold = 5
	a, err := localArtifact(cfg)
	require.NoError(t, err)
	assert.Equal(t, 5.0, a.Settings.SeverityThreshold)
	_, err = catalog.Compile(a)
	require.NoError(t, err)

	def, err := localArtifact(config.Defaults())
	require.NoError(t, err)
	assert.Equal(t, "2024.11-default", def.Version)
	assert.NotEqual(t, def.Version, a.Version)
	assert.True(t, strings.HasPrefix(a.Version, "v-"))

	// an override equal to the authored value changes nothing
	cfg.Engine.SeverityThreshold = def.Settings.SeverityThreshold
	same, err := localArtifact(cfg)
	require.NoError(t, err)
	assert.Equal(t, def.Version, same.Version)
}

func TestLLMConfigMapsSelectedProvider(t *testing.T) {
	cfg := config.Defaults()
	cfg.AI.Provider = llm.ProviderOpenAI
	cfg.AI.Model = "gpt-test"
	cfg.AI.BaseURL = "http://localhost:9999/v1"
	cfg.AI.OpenAIAPIKey = "sk-test"
	cfg.AI.MaxAttempts = 3

	lc := llmConfig(cfg)
	assert.Equal(t, llm.ProviderOpenAI, lc.Provider)
	assert.Equal(t, "gpt-test", lc.OpenAI.Model)
	assert.Equal(t, "http://localhost:9999/v1", lc.OpenAI.BaseURL)
	assert.Equal(t, "sk-test", lc.OpenAI.APIKey)
	assert.Equal(t, 3, lc.Retry.MaxAttempts)
	assert.Equal(t, 20*time.Second, lc.Retry.AttemptTimeout)
	assert.Equal(t, llm.DefaultConfig().Anthropic.Model, lc.Anthropic.Model)
}

func TestDecisionTimeoutCoversEveryAttempt(t *testing.T) {
	cfg := config.Defaults()
	cfg.AI.Timeout = "5s"
	assert.Equal(t, 5*time.Second, decisionTimeout(cfg))

	cfg.AI.Provider = llm.ProviderOpenAI
	cfg.AI.MaxAttempts = 2
	budget := decisionTimeout(cfg)
	assert.Equal(t, 10*time.Second+llm.DefaultConfig().Retry.MaxWait, budget)
	assert.Equal(t, 5*time.Second, llmConfig(cfg).Retry.AttemptTimeout)
}

func TestNewDeciderDefaultsToRules(t *testing.T) {
	d, err := newDecider(t.Context(), config.Defaults(), zap.NewNop())
	require.NoError(t, err)
	assert.IsType(t, engine.CatalogDecider{}, d)

	cfg := config.Defaults()
	cfg.AI.Provider = llm.ProviderAnthropic
	_, err = newDecider(t.Context(), cfg, zap.NewNop())
	assert.Error(t, err, "missing API key must fail at startup")
}
