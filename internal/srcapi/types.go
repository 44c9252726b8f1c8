// Pacesetter - Speedrun Leaderboard Sync and Ranking Engine
// Copyright 2026 Pacesetter contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/pacesetter-app/pacesetter

package srcapi

import (
	"github.com/goccy/go-json"
)

// Wire types for the speedrun.com v1 API. Only the fields the engine
// consumes are mapped; unknown fields are ignored by the decoder.

// Names is the upstream multi-form name block.
type Names struct {
	International string `json:"international"`
	Japanese      string `json:"japanese"`
	Twitch        string `json:"twitch"`
}

// URIHolder wraps the single-URI objects the API uses for socials.
type URIHolder struct {
	URI string `json:"uri"`
}

// embedded decodes the {"data": [...]} wrapper the API puts around
// embedded collections.
type embedded[T any] struct {
	Data []T `json:"data"`
}

/// UnmarshalJSON accepts both the embedded {"data": [...]} form and a bare
// array, which some endpoints return for the same relation.
func (e *embedded[T]) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && b[0] == '[' {
		return json.Unmarshal(b, &e.Data)
	}
	var env struct {
		Data []T `json:"data"`
	}
	if err := json.Unmarshal(b, &env); err != nil {
		return err
	}
	e.Data = env.Data
	return nil
}

// Game is the upstream game resource, with taxonomy embeds when requested.
type Game struct {
	ID           string `json:"id"`
	Names        Names  `json:"names"`
	Abbreviation string `json:"abbreviation"`
	Weblink      string `json:"weblink"`
	ReleaseDate  string `json:"release-date"`
	Ruleset      struct {
		DefaultTime string `json:"default-time"`
	} `json:"ruleset"`
	Assets struct {
		CoverLarge URIHolder `json:"cover-large"`
	} `json:"assets"`

	Platforms  embedded[Platform] `json:"platforms"`
	Categories embedded[Category] `json:"categories"`
	Levels     embedded[Level]    `json:"levels"`
	Variables  embedded[Variable] `json:"variables"`
}

// Platform is the upstream platform resource.
type Platform struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Category is the upstream category resource.
type Category struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Weblink string `json:"weblink"`
	// Type is "per-game" or "per-level".
	Type  string `json:"type"`
	Rules string `json:"rules"`
}

// Level is the upstream level resource.
type Level struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Weblink string `json:"weblink"`
	Rules   string `json:"rules"`
}

// Variable is the upstream variable resource. Subcategory variables
// partition a category's leaderboard into separate boards.
type Variable struct {
	ID       string  `json:"id"`
	Name     string  `json:"name"`
	Category *string `json:"category"` // nil = applies to all categories
	Scope    struct {
		Type  string  `json:"type"` // global, full-game, all-levels, single-level
		Level *string `json:"level"`
	} `json:"scope"`
	IsSubcategory bool `json:"is-subcategory"`
	Values        struct {
		Values map[string]VariableValue `json:"values"`
	} `json:"values"`
}

// VariableValue is one selectable value of a variable.
type VariableValue struct {
	Label string `json:"label"`
	Rules string `json:"rules"`
}

// User is the upstream user resource.
type User struct {
	ID       string `json:"id"`
	Names    Names  `json:"names"`
	Weblink  string `json:"weblink"`
	Pronouns string `json:"pronouns"`
	Location *struct {
		Country struct {
			Code  string `json:"code"`
			Names Names  `json:"names"`
		} `json:"country"`
	} `json:"location"`
	Twitch  *URIHolder `json:"twitch"`
	YouTube *URIHolder `json:"youtube"`
	Twitter *URIHolder `json:"twitter"`
}

// RunPlayer is one participant of a run: a registered user or a guest.
type RunPlayer struct {
	Rel   string `json:"rel"` // "user" or "guest"
	ID    string `json:"id"`
	Name  string `json:"name"` // guests only
	URI   string `json:"uri"`
	Names *Names `json:"names"` // embedded users only
}

// Guest reports whether the participant has no account.
func (p RunPlayer) Guest() bool {
	return p.Rel == "guest"
}

// RunPlayers decodes the run players relation, which is a bare array of
// refs normally and {"data": [...]} when the players embed is requested.
type RunPlayers struct {
	Data []RunPlayer
}

func (p *RunPlayers) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && b[0] == '[' {
		return json.Unmarshal(b, &p.Data)
	}
	var env struct {
		Data []RunPlayer `json:"data"`
	}
	if err := json.Unmarshal(b, &env); err != nil {
		return err
	}
	p.Data = env.Data
	return nil
}

// Times carries every clock a run was timed with, in seconds.
type Times struct {
	Primary          string  `json:"primary"`
	PrimaryT         float64 `json:"primary_t"`
	RealtimeT        float64 `json:"realtime_t"`
	RealtimeNoloadsT float64 `json:"realtime_noloads_t"`
	IngameT          float64 `json:"ingame_t"`
}

// RunStatus is the moderation state of a run.
type RunStatus struct {
	Status     string  `json:"status"` // "verified", "new", "rejected"
	Examiner   string  `json:"examiner"`
	VerifyDate *string `json:"verify-date"`
}

// Run is the upstream run resource.
type Run struct {
	ID       string  `json:"id"`
	Weblink  string  `json:"weblink"`
	Game     string  `json:"game"`
	Level    *string `json:"level"`
	Category string  `json:"category"`
	Videos   *struct {
		Text  string      `json:"text"`
		Links []URIHolder `json:"links"`
	} `json:"videos"`
	Comment   string     `json:"comment"`
	Status    RunStatus  `json:"status"`
	Players   RunPlayers `json:"players"`
	Date      string     `json:"date"`      // YYYY-MM-DD
	Submitted *string    `json:"submitted"` // RFC3339
	Times     Times      `json:"times"`
	System    struct {
		Platform string `json:"platform"`
		Emulated bool   `json:"emulated"`
	} `json:"system"`
	// Values maps variable ID to the chosen value ID.
	Values map[string]string `json:"values"`
}

// VideoURI returns the first linked video, if any.
func (r Run) VideoURI() string {
	if r.Videos == nil || len(r.Videos.Links) == 0 {
		return ""
	}
	return r.Videos.Links[0].URI
}

// PlacedRun is a leaderboard entry: a run with its board position.
type PlacedRun struct {
	Place int `json:"place"`
	Run   Run `json:"run"`
}

// Leaderboard is the upstream leaderboard resource: the ranked runs of one
// board under the requested variable filters.
type Leaderboard struct {
	Weblink  string            `json:"weblink"`
	Game     string            `json:"game"`
	Category string            `json:"category"`
	Level    *string           `json:"level"`
	Timing   string            `json:"timing"`
	Values   map[string]string `json:"values"`
	Runs     []PlacedRun       `json:"runs"`
}

// pagination is the cursor block of a paginated response.
type pagination struct {
	Offset int `json:"offset"`
	Max    int `json:"max"`
	Size   int `json:"size"`
}
