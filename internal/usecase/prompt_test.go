package usecase

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"miroir-agent/internal/domain"
)

func TestBuildSystemPrompt_IncludesRules(t *testing.T) {
	content := buildSystemPrompt()
	require.Contains(t, content, "≤22")
	require.Contains(t, content, "22 = Le Mat")
	require.Contains(t, content, "Loi du triangle")
	require.Contains(t, content, "130–170 mots")
	for _, section := range []string{"Lumière", "Ombre", "Besoins", "Leviers", "Triangle"} {
		require.Contains(t, content, "- "+section)
	}
	require.Contains(t, content, `{"cards": {...}}`)
}

func TestBuildSystemPrompt_NamesAllPositions(t *testing.T) {
	content := buildSystemPrompt()
	require.Len(t, domain.Positions, 9)
	for _, p := range domain.Positions {
		require.Contains(t, content, `"`+p.Key+`"`)
		require.Contains(t, content, p.Label)
	}
	require.Contains(t, content, "Jour (Eau)")
	require.Contains(t, content, "Mois (Air)")
	require.Contains(t, content, "Année (Feu)")
}

func TestBuildUserPrompt_CarriesArcanaMeta(t *testing.T) {
	content, err := buildUserPrompt(validInput())
	require.NoError(t, err)

	var payload struct {
		Locale string `json:"locale"`
		Meta   struct {
			ArcanaMeta map[string]arcanaKeywords `json:"arcana_meta"`
		} `json:"meta"`
	}
	require.NoError(t, json.Unmarshal([]byte(content), &payload))
	require.Equal(t, "fr", payload.Locale)
	require.Len(t, payload.Meta.ArcanaMeta, 22)
	require.Equal(t, "quête, liberté, marche", payload.Meta.ArcanaMeta["22"].Light)
	require.Equal(t, "dispersion, esbroufe", payload.Meta.ArcanaMeta["1"].Shadow)
}

func TestNormalize(t *testing.T) {
	cases := []struct {
		name    string
		content string
		want    string
		soft    bool
	}{
		{name: "wraps object", content: `{"jour":{}}`, want: `{"cards":{"jour":{}}}`},
		{name: "keeps cards", content: `{"cards":{"jour":{}}}`, want: `{"cards":{"jour":{}}}`},
		{name: "empty", content: "", want: `{"cards":{}}`},
		{name: "null", content: "null", want: `{"cards":null}`},
		{name: "trailing garbage", content: `{"jour":{}} extra`, want: `{"cards":{"error":"bad_json_from_ai","content":"{\"jour\":{}} extra"}}`, soft: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			out, err := normalize(tc.content)
			require.NoError(t, err)
			require.Equal(t, tc.soft, out.SoftFailure)
			require.JSONEq(t, tc.want, string(out.Envelope))
		})
	}
}
