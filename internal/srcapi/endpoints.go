// Pacesetter - Speedrun Leaderboard Sync and Ranking Engine
// Copyright 2026 Pacesetter contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/pacesetter-app/pacesetter

package srcapi

import (
	"context"
	"net/url"

	"github.com/goccy/go-json"
)

// Run fetches a single run with its players embedded.
func (c *Client) Run(ctx context.Context, runID string) (*Run, error) {
	q := url.Values{"embed": {"players"}}
	var run Run
	if err := c.get(ctx, "runs", "/runs/"+url.PathEscape(runID), q, &run); err != nil {
		return nil, err
	}
	return &run, nil
}

// Game fetches a game with its full taxonomy embedded: platforms,
// categories, levels and variables.
func (c *Client) Game(ctx context.Context, gameID string) (*Game, error) {
	q := url.Values{"embed": {"platforms,categories,levels,variables"}}
	var game Game
	if err := c.get(ctx, "games", "/games/"+url.PathEscape(gameID), q, &game); err != nil {
		return nil, err
	}
	return &game, nil
}

// User fetches a single user profile. Profiles are cached briefly since
// bulk syncs resolve the same players repeatedly.
func (c *Client) User(ctx context.Context, userID string) (*User, error) {
	if user, ok := c.users.Get(userID); ok {
		return user, nil
	}
	var user User
	if err := c.get(ctx, "users", "/users/"+url.PathEscape(userID), nil, &user); err != nil {
		return nil, err
	}
	c.users.Set(userID, &user)
	return &user, nil
}

// Leaderboard fetches one board: a game/category pair, optionally scoped to
// a level, filtered by the given variable:value selections. Run players are
// embedded so ingestion does not need a second round trip per run.
func (c *Client) Leaderboard(ctx context.Context, gameID, categoryID, levelID string, variables map[string]string) (*Leaderboard, error) {
	path := "/leaderboards/" + url.PathEscape(gameID)
	if levelID != "" {
		path += "/level/" + url.PathEscape(levelID) + "/" + url.PathEscape(categoryID)
	} else {
		path += "/category/" + url.PathEscape(categoryID)
	}

	q := url.Values{"embed": {"players"}}
	for varID, valID := range variables {
		q.Set("var-"+varID, valID)
	}

	var board Leaderboard
	if err := c.get(ctx, "leaderboards", path, q, &board); err != nil {
		return nil, err
	}
	return &board, nil
}

// PlayerRuns walks a player's complete run list page by page, invoking fn
// for every run. Players are embedded on each run.
func (c *Client) PlayerRuns(ctx context.Context, userID string, fn func(Run) error) error {
	q := url.Values{
		"user":  {userID},
		"embed": {"players"},
	}
	return c.paginate(ctx, "runs", "/runs", q, func(data json.RawMessage) error {
		var runs []Run
		if err := json.Unmarshal(data, &runs); err != nil {
			return err
		}
		for _, run := range runs {
			if err := fn(run); err != nil {
				return err
			}
		}
		return nil
	})
}

// GameRuns walks every run of a game page by page, including obsolete ones,
// invoking fn for each.
func (c *Client) GameRuns(ctx context.Context, gameID string, fn func(Run) error) error {
	q := url.Values{
		"game":  {gameID},
		"embed": {"players"},
	}
	return c.paginate(ctx, "runs", "/runs", q, func(data json.RawMessage) error {
		var runs []Run
		if err := json.Unmarshal(data, &runs); err != nil {
			return err
		}
		for _, run := range runs {
			if err := fn(run); err != nil {
				return err
			}
		}
		return nil
	})
}
