package doctor

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRun_ConfigCategory(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("FRONTDESK_DATA_DIR", dir)

	profilePath := filepath.Join(dir, "frontdesk.agent.yaml")
	profileYAML := `
business:
  name: Clinica Sol
  timezone: Europe/Madrid
services:
  - code: consulta
    name: Consulta general
    minutes: 30
hours:
  monday: ["09:00-13:00"]
`
	require.NoError(t, os.WriteFile(profilePath, []byte(profileYAML), 0o600))
	t.Setenv("FRONTDESK_AGENT_PROFILE", profilePath)

	ctx := context.Background()
	report := Run(ctx, Options{SkipLLM: true})

	configChecks := 0
	for _, c := range report.Checks {
		if c.Category == "config" {
			configChecks++
		}
	}
	assert.GreaterOrEqual(t, configChecks, 6, "should have at least 6 config checks")
	assert.GreaterOrEqual(t, report.Summary.Pass, 4)

	for _, c := range report.Checks {
		if c.Name == "agent_profile" {
			assert.Equal(t, "pass", c.Status)
			assert.Contains(t, c.Message, "Clinica Sol")
		}
	}
}

func TestRun_WarnsOnDefaults(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("FRONTDESK_DATA_DIR", dir)

	ctx := context.Background()
	report := Run(ctx, Options{SkipLLM: true})

	warned := map[string]bool{}
	for _, c := range report.Checks {
		if c.Status == "warn" {
			warned[c.Name] = true
		}
	}
	assert.True(t, warned["secrets_key"], "default secrets key should warn")
	assert.True(t, warned["code_pepper"], "missing pepper should warn")
	assert.True(t, warned["webhook_secret"], "missing webhook secret should warn")
	assert.True(t, warned["agent_profile"], "absent profile should warn")
	assert.True(t, warned["smtp"], "missing SMTP host should warn")
	assert.Equal(t, "warn", report.Status)
}

func TestRun_InvalidProfileFails(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("FRONTDESK_DATA_DIR", dir)

	profilePath := filepath.Join(dir, "frontdesk.agent.yaml")
	require.NoError(t, os.WriteFile(profilePath, []byte("hours: ["), 0o600))
	t.Setenv("FRONTDESK_AGENT_PROFILE", profilePath)

	ctx := context.Background()
	report := Run(ctx, Options{SkipLLM: true})

	found := false
	for _, c := range report.Checks {
		if c.Name == "agent_profile" {
			found = true
			assert.Equal(t, "fail", c.Status)
		}
	}
	assert.True(t, found)
	assert.Equal(t, "fail", report.Status)
}

func TestRun_SkipLLM(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("FRONTDESK_DATA_DIR", dir)

	ctx := context.Background()
	report := Run(ctx, Options{SkipLLM: true})

	for _, c := range report.Checks {
		assert.NotEqual(t, "llm", c.Category, "should skip LLM checks when asked")
	}
}

func TestRun_MissingLLMKeyForOpenAI(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("FRONTDESK_DATA_DIR", dir)
	t.Setenv("FRONTDESK_LLM_PROVIDER", "openai")

	ctx := context.Background()
	report := Run(ctx, Options{SkipLLM: true})

	found := false
	for _, c := range report.Checks {
		if c.Name == "llm_api_key" {
			found = true
			assert.Equal(t, "fail", c.Status)
			assert.Contains(t, c.Fix, "frontdesk secrets set")
		}
	}
	assert.True(t, found)
}

func TestReport_SummaryCalculation(t *testing.T) {
	report := &Report{
		Checks: []CheckResult{
			{Status: "pass", Name: "a"},
			{Status: "pass", Name: "b"},
			{Status: "warn", Name: "c"},
			{Status: "fail", Name: "d"},
		},
	}
	for _, c := range report.Checks {
		switch c.Status {
		case "pass":
			report.Summary.Pass++
		case "warn":
			report.Summary.Warn++
		case "fail":
			report.Summary.Fail++
		}
	}

	assert.Equal(t, 2, report.Summary.Pass)
	assert.Equal(t, 1, report.Summary.Warn)
	assert.Equal(t, 1, report.Summary.Fail)
}
