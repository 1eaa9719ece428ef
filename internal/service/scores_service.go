package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/oddsledger/internal/domain"
	"github.com/alanyoungcy/oddsledger/internal/platform/nflverse"
)

// ScoresFetcher downloads final scores.
type ScoresFetcher interface {
	Games(ctx context.Context, seasons []int) ([]nflverse.Game, error)
}

// ScoresConfig controls score matching.
type ScoresConfig struct {
	SportKey    string
	Seasons     []int
	MatchWindow time.Duration
	DryRun      bool
}

// ScoreUpdate is one planned or applied completion.
type ScoreUpdate struct {
	GameID    string    `json:"game_id"`
	SourceID  string    `json:"source_id"`
	HomeTeam  string    `json:"home_team"`
	AwayTeam  string    `json:"away_team"`
	HomeScore int       `json:"home_score"`
	AwayScore int       `json:"away_score"`
	GameDay   time.Time `json:"game_day"`
}

// ScoresResult summarises a scores sync.
type ScoresResult struct {
	Fetched   int           `json:"fetched"`
	Matched   int           `json:"matched"`
	Updated   int           `json:"updated"`
	Unchanged int           `json:"unchanged"`
	Conflicts int           `json:"conflicts"`
	Graded    int           `json:"graded"`
	DryRun    bool          `json:"dry_run"`
	Updates   []ScoreUpdate `json:"updates,omitempty"`
}

// ScoresService completes stored games from an external final-score feed.
type ScoresService struct {
	fetcher  ScoresFetcher
	teams    nflverse.TeamMap
	games    *GameService
	outcomes *OutcomeService
	cfg      ScoresConfig
	logger   *slog.Logger
}

// NewScoresService creates a ScoresService. outcomes may be nil to skip
// grading after completion.
func NewScoresService(
	fetcher ScoresFetcher,
	teams nflverse.TeamMap,
	games *GameService,
	outcomes *OutcomeService,
	cfg ScoresConfig,
	logger *slog.Logger,
) *ScoresService {
	if cfg.MatchWindow <= 0 {
		cfg.MatchWindow = 24 * time.Hour
	}
	return &ScoresService{
		fetcher:  fetcher,
		teams:    teams,
		games:    games,
		outcomes: outcomes,
		cfg:      cfg,
		logger:   logger.With(slog.String("component", "scores_service")),
	}
}

// Sync fetches final scores, matches them to stored games by team names and
// game day, and completes the matched games. A conflicting final score is
// counted and left as stored.
func (s *ScoresService) Sync(ctx context.Context) (ScoresResult, error) {
	res := ScoresResult{DryRun: s.cfg.DryRun}

	feed, err := s.fetcher.Games(ctx, s.cfg.Seasons)
	if err != nil {
		return res, fmt.Errorf("scores_service: fetch: %w", err)
	}
	res.Fetched = len(feed)

	stored, err := s.games.List(ctx, domain.GameFilter{SportKey: s.cfg.SportKey})
	if err != nil {
		return res, fmt.Errorf("scores_service: list games: %w", err)
	}
	index := indexGames(stored)

	var errs []error
	for _, fg := range feed {
		if !fg.Final() {
			continue
		}
		g, ok := s.match(index, fg)
		if !ok {
			continue
		}
		res.Matched++

		if g.Status == domain.StatusCompleted {
			if g.SameScore(*fg.HomeScore, *fg.AwayScore) {
				res.Unchanged++
				continue
			}
			res.Conflicts++
			if !s.cfg.DryRun {
				s.games.ReportConflict(ctx, g.Game, *fg.HomeScore, *fg.AwayScore)
			}
			continue
		}
		up := ScoreUpdate{
			GameID:    g.ID,
			SourceID:  fg.ID,
			HomeTeam:  g.HomeTeamName,
			AwayTeam:  g.AwayTeamName,
			HomeScore: *fg.HomeScore,
			AwayScore: *fg.AwayScore,
			GameDay:   fg.GameDay,
		}
		if s.cfg.DryRun {
			res.Updates = append(res.Updates, up)
			continue
		}

		_, err := s.games.Complete(ctx, g.ID, up.HomeScore, up.AwayScore, completionTime(g.CommenceTime))
		switch {
		case errors.Is(err, domain.ErrStateConflict):
			res.Conflicts++
			continue
		case err != nil:
			errs = append(errs, err)
			continue
		}
		res.Updated++
		res.Updates = append(res.Updates, up)

		if s.outcomes != nil {
			n, err := s.outcomes.GradeGame(ctx, g.ID)
			if err != nil {
				s.logger.WarnContext(ctx, "grade after completion failed",
					slog.String("game_id", g.ID),
					slog.String("error", err.Error()),
				)
				continue
			}
			res.Graded += n
		}
	}

	s.logger.InfoContext(ctx, "scores sync complete",
		slog.Int("fetched", res.Fetched),
		slog.Int("matched", res.Matched),
		slog.Int("updated", res.Updated),
		slog.Int("unchanged", res.Unchanged),
		slog.Int("conflicts", res.Conflicts),
		slog.Bool("dry_run", res.DryRun),
	)
	return res, errors.Join(errs...)
}

// match finds the stored game with the same home and away team whose start
// falls within the match window of the feed's game day.
func (s *ScoresService) match(index map[matchKey][]domain.GameView, fg nflverse.Game) (domain.GameView, bool) {
	key := matchKey{home: s.teams.Name(fg.HomeTeam), away: s.teams.Name(fg.AwayTeam)}
	for _, g := range index[key] {
		if withinDays(g.CommenceTime, fg.GameDay, s.cfg.MatchWindow) {
			return g, true
		}
	}
	return domain.GameView{}, false
}

type matchKey struct {
	home, away string
}

func indexGames(games []domain.GameView) map[matchKey][]domain.GameView {
	idx := make(map[matchKey][]domain.GameView, len(games))
	for _, g := range games {
		k := matchKey{home: g.HomeTeamName, away: g.AwayTeamName}
		idx[k] = append(idx[k], g)
	}
	return idx
}

// withinDays compares calendar dates, so a late kickoff that is already the
// next day in UTC still matches its local game day.
func withinDays(commence, gameDay time.Time, window time.Duration) bool {
	c := commence.UTC()
	cd := time.Date(c.Year(), c.Month(), c.Day(), 0, 0, 0, 0, time.UTC)
	gd := time.Date(gameDay.Year(), gameDay.Month(), gameDay.Day(), 0, 0, 0, 0, time.UTC)
	diff := cd.Sub(gd)
	if diff < 0 {
		diff = -diff
	}
	return diff <= window
}

// completionTime estimates when a game ended; the feed has no end time.
func completionTime(commence time.Time) time.Time {
	end := commence.Add(4 * time.Hour)
	if now := time.Now().UTC(); end.After(now) {
		return now
	}
	return end
}
