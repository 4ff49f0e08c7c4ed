package domain

import "encoding/json"

// Position is one of the nine fixed places of the mirror spread.
type Position struct {
	Key     string
	Label   string
	Element string
}

// Positions lists the spread in reading order. The first three are the axes
// supplied by the caller; the rest are derived from them.
var Positions = []Position{
	{Key: "jour", Label: "Jour", Element: "Eau"},
	{Key: "mois", Label: "Mois", Element: "Air"},
	{Key: "annee", Label: "Année", Element: "Feu"},
	{Key: "terre", Label: "Terre"},
	{Key: "comportement_interieur", Label: "Comportement intérieur"},
	{Key: "noeud_emotion", Label: "Nœud d’émotion"},
	{Key: "comportement_exterieur", Label: "Comportement extérieur"},
	{Key: "personnalite_exterieure", Label: "Personnalité extérieure"},
	{Key: "recherche_harmonie", Label: "Recherche d’harmonie"},
}

// Reading is a produced interpretation as stored in the journal.
type Reading struct {
	ID            string
	CorrelationID string
	Locale        string
	Axes          json.RawMessage
	Parents       json.RawMessage
	Result        json.RawMessage
	SoftFailure   bool
	Model         string
	CreatedAt     string
	TTL           int64
}
