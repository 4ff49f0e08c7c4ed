package usecase

import (
	"encoding/json"
	"fmt"
	"strings"

	"miroir-agent/internal/domain"
)

// arcanaKeywords holds the light (L) and shadow (O) keywords of one major arcana.
type arcanaKeywords struct {
	Light  string `json:"L"`
	Shadow string `json:"O"`
}

var arcanaMeta = map[int]arcanaKeywords{
	1:  {Light: "élan, expérimentation, ingéniosité", Shadow: "dispersion, esbroufe"},
	2:  {Light: "savoir intérieur, mémoire, gestation", Shadow: "inhibition, inertie"},
	3:  {Light: "créativité, parole féconde, diplomatie", Shadow: "vanité, précipitation mentale"},
	4:  {Light: "structure, stabilité, autorité juste", Shadow: "rigidité, domination"},
	5:  {Light: "transmission, guidance, sens", Shadow: "moralisme, paternalisme"},
	6:  {Light: "choix, affinité, alliance", Shadow: "indécision, dispersion"},
	7:  {Light: "cap, mouvement maîtrisé, volonté", Shadow: "tension, dirigisme"},
	8:  {Light: "équité, clarté, mesure", Shadow: "sévérité, rigidité morale"},
	9:  {Light: "prudence, temps long, soin", Shadow: "isolement, pessimisme"},
	10: {Light: "cycle, opportunité, relance", Shadow: "instabilité, illusions de contrôle"},
	11: {Light: "apprivoisement, courage tranquille", Shadow: "brusquerie, orgueil"},
	12: {Light: "inversion du regard, compassion", Shadow: "sacrifice, stagnation"},
	13: {Light: "mue, épuration, renaissance", Shadow: "radicalité, casse sèche"},
	14: {Light: "harmonie, circulation, adaptation", Shadow: "tiédeur, évitement"},
	15: {Light: "puissance vitale, désir, créativité brute", Shadow: "attachements, manipulation"},
	16: {Light: "libération, vérité éclat", Shadow: "rupture mal gérée"},
	17: {Light: "grâce, inspiration, naturalité", Shadow: "fragilité, idéalisation"},
	18: {Light: "imaginaire, intuition, mémoire", Shadow: "peurs floues, projections"},
	19: {Light: "joie, clarté, fraternité", Shadow: "surface parfaite, orgueil lumineux"},
	20: {Light: "réveil, appel, message", Shadow: "bruit, attente de validation"},
	21: {Light: "accomplissement, alliance des plans", Shadow: "zone de confort diffuse"},
	22: {Light: "quête, liberté, marche", Shadow: "errance, imprudence"},
}

// userPayload is the user message sent to the model. Axes and parents are
// forwarded exactly as the caller sent them.
type userPayload struct {
	Locale  string          `json:"locale"`
	Axes    json.RawMessage `json:"axes"`
	Parents json.RawMessage `json:"parents"`
	Meta    payloadMeta     `json:"meta"`
}

type payloadMeta struct {
	ArcanaMeta map[int]arcanaKeywords `json:"arcana_meta"`
}

func buildPromptMessages(in ReadInput) ([]domain.ChatMessage, error) {
	user, err := buildUserPrompt(in)
	if err != nil {
		return nil, err
	}
	return []domain.ChatMessage{
		{Role: domain.RoleSystem, Content: buildSystemPrompt()},
		{Role: domain.RoleUser, Content: user},
	}, nil
}

func buildSystemPrompt() string {
	return strings.Join([]string{
		`Tu es un analyste du "Miroir de l’Être" (Kris Hadar).`,
		"Règle de réduction: une valeur ≤22 est gardée, sinon on fait la somme de ses chiffres (22 = Le Mat, terminal, jamais réduit).",
		"",
		"9 positions:",
		positionLines(),
		"",
		"Loi du triangle: toute carte issue d’une somme s’interprète en fonction de ses deux parents (leur dynamique précise, pas seulement leurs noms).",
		"Style: naturel, nuancé, sans injonction morale ni phrases génériques. Pas de jargon gratuit. Ton concret, 1–2 images parlantes max.",
		"",
		"Chaque position: 130–170 mots, structurés en:",
		"- Lumière",
		"- Ombre",
		"- Besoins",
		"- Leviers",
		"- Triangle (analyse concrète des deux parents; pas juste les nommer)",
		"",
		"Format de sortie:",
		outputContract(),
	}, "\n")
}

func positionLines() string {
	lines := make([]string, 0, len(domain.Positions))
	for _, p := range domain.Positions {
		if p.Element != "" {
			lines = append(lines, fmt.Sprintf("- %s (%s), clé \"%s\"", p.Label, p.Element, p.Key))
			continue
		}
		lines = append(lines, fmt.Sprintf("- %s, clé \"%s\"", p.Label, p.Key))
	}
	return strings.Join(lines, "\n")
}

func outputContract() string {
	keys := make([]string, 0, len(domain.Positions))
	for _, p := range domain.Positions {
		keys = append(keys, p.Key)
	}
	return "Réponds uniquement en JSON strict, sans texte autour: un objet {\"cards\": {...}} " +
		"contenant exactement les 9 clés " + strings.Join(keys, ", ") + ". " +
		"Chaque carte est un objet avec titre, element, lumiere, ombre, besoins, leviers et triangle (si la carte est issue d’une somme)."
}

func buildUserPrompt(in ReadInput) (string, error) {
	b, err := json.Marshal(userPayload{
		Locale:  in.Locale,
		Axes:    in.Axes,
		Parents: in.Parents,
		Meta:    payloadMeta{ArcanaMeta: arcanaMeta},
	})
	if err != nil {
		return "", fmt.Errorf("usecase: marshal user prompt: %w", err)
	}
	return string(b), nil
}
