// Package reflection implements the critique-and-revise loop.
//
// An output is scored against a weighted rubric by a generation backend;
// when the critique calls for revision, a revised output is requested that
// must address every listed weakness. The loop runs up to maxIterations
// rounds with early stopping on high scores or diminishing returns.
package reflection

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/loomworks/loom/internal/config"
	"github.com/loomworks/loom/internal/store"
	"github.com/loomworks/loom/pkg/contracts"
	"github.com/loomworks/loom/pkg/models"
	"github.com/rs/zerolog/log"
)

const (
	defaultMaxIterations        = 3
	defaultImprovementThreshold = 0.1
	earlyStopScore              = 0.9

	// DefaultProvider handles critique and revision calls. Reflection
	// quality tracks the judge, so the default is a strong backend.
	DefaultProvider = "gpt-4o"
)

// Engine runs reflection sessions.
type Engine struct {
	store store.Store
	gen   contracts.GenerationClient
	sink  contracts.LearningSink

	provider             string
	maxIterations        int
	improvementThreshold float64
}

// NewEngine creates a reflection engine.
func NewEngine(s store.Store, gen contracts.GenerationClient, sink contracts.LearningSink, cfg config.EngineConfig) *Engine {
	e := &Engine{
		store:                s,
		gen:                  gen,
		sink:                 sink,
		provider:             DefaultProvider,
		maxIterations:        cfg.MaxIterations,
		improvementThreshold: cfg.ImprovementThreshold,
	}
	if e.maxIterations <= 0 {
		e.maxIterations = defaultMaxIterations
	}
	if e.improvementThreshold <= 0 {
		e.improvementThreshold = defaultImprovementThreshold
	}
	if e.sink == nil {
		e.sink = contracts.NopSink{}
	}
	return e
}

// Reflect produces a single critique of the given output without revising
// it. A nil criteria slice selects the stock rubric for the context's
// output kind.
func (e *Engine) Reflect(ctx context.Context, rc models.ReflectionContext, criteria []models.ReflectionCriteria) (*models.ReflectionResult, models.TokenUsage, error) {
	if len(criteria) == 0 {
		criteria = RubricFor(rc.OutputKind)
	}
	return e.critique(ctx, rc, rc.InitialOutput, criteria)
}

// ReflectAndRevise critiques the output and, when the critique calls for
// revision, runs a single revision pass. The revised output is empty when
// the critique did not call for one.
func (e *Engine) ReflectAndRevise(ctx context.Context, rc models.ReflectionContext, criteria []models.ReflectionCriteria) (*models.ReflectionResult, string, models.TokenUsage, error) {
	if len(criteria) == 0 {
		criteria = RubricFor(rc.OutputKind)
	}

	result, usage, err := e.critique(ctx, rc, rc.InitialOutput, criteria)
	if err != nil {
		return nil, "", usage, err
	}
	if !result.NeedsRevision {
		return result, "", usage, nil
	}

	revised, revUsage, err := e.revise(ctx, rc, rc.InitialOutput, result)
	usage.Add(revUsage)
	if err != nil {
		return result, "", usage, err
	}
	return result, revised, usage, nil
}

// StartSession runs the full critique-and-revise loop and persists the
// session. On a mid-loop backend failure the session is marked failed and
// returned along with the error.
func (e *Engine) StartSession(ctx context.Context, rc models.ReflectionContext, criteria []models.ReflectionCriteria, ownerID, scopeID string) (*models.ReflectionSession, error) {
	if len(criteria) == 0 {
		criteria = RubricFor(rc.OutputKind)
	}

	session := &models.ReflectionSession{
		ID:        uuid.New().String(),
		OwnerID:   ownerID,
		ScopeID:   scopeID,
		Context:   rc,
		Status:    models.SessionRunning,
		StartedAt: time.Now().UTC(),
	}
	if err := e.store.CreateReflectionSession(ctx, session); err != nil {
		return nil, err
	}

	working := rc.InitialOutput
	var firstScore, lastScore float64

	for i := 0; i < e.maxIterations; i++ {
		result, usage, err := e.critique(ctx, rc, working, criteria)
		session.Usage.Add(usage)
		if err != nil {
			e.finish(ctx, session, working, firstScore, lastScore, models.SessionFailed)
			return session, err
		}

		iteration := models.ReflectionIteration{
			Input:     working,
			Result:    *result,
			Timestamp: time.Now().UTC(),
		}
		if i == 0 {
			firstScore = result.OverallScore
		} else {
			iteration.Improvement = result.OverallScore - lastScore
		}

		stop := result.OverallScore > earlyStopScore ||
			(i > 0 && result.OverallScore-lastScore < e.improvementThreshold)
		lastScore = result.OverallScore

		if !stop && result.NeedsRevision && i < e.maxIterations-1 {
			revised, revUsage, err := e.revise(ctx, rc, working, result)
			session.Usage.Add(revUsage)
			if err != nil {
				session.Iterations = append(session.Iterations, iteration)
				e.finish(ctx, session, working, firstScore, lastScore, models.SessionFailed)
				return session, err
			}
			iteration.RevisedOutput = revised
			working = revised
		}

		session.Iterations = append(session.Iterations, iteration)
		if stop || !result.NeedsRevision {
			break
		}
	}

	e.finish(ctx, session, working, firstScore, lastScore, models.SessionCompleted)

	e.sink.Record(ctx, scopeID, "reflection", map[string]interface{}{
		"session_id":        session.ID,
		"iterations":        len(session.Iterations),
		"total_improvement": session.TotalImprovement,
		"final_output":      session.FinalOutput,
	}, map[string]string{"owner_id": ownerID})

	return session, nil
}

// Session returns a persisted reflection session.
func (e *Engine) Session(ctx context.Context, id string) (*models.ReflectionSession, error) {
	return e.store.GetReflectionSession(ctx, id)
}

// finish seals the session. Total improvement is measured against the
// first iteration's actual score, not an assumed baseline.
func (e *Engine) finish(ctx context.Context, session *models.ReflectionSession, finalOutput string, firstScore, lastScore float64, status models.SessionStatus) {
	now := time.Now().UTC()
	session.FinalOutput = finalOutput
	session.TotalImprovement = lastScore - firstScore
	session.Status = status
	session.CompletedAt = &now

	if err := e.store.UpdateReflectionSession(ctx, session); err != nil {
		log.Error().Err(err).Str("session_id", session.ID).Msg("Failed to persist reflection session")
	}

	log.Info().
		Str("session_id", session.ID).
		Str("status", string(status)).
		Int("iterations", len(session.Iterations)).
		Float64("total_improvement", session.TotalImprovement).
		Msg("Reflection session finished")
}

func (e *Engine) critique(ctx context.Context, rc models.ReflectionContext, output string, criteria []models.ReflectionCriteria) (*models.ReflectionResult, models.TokenUsage, error) {
	gen, err := e.gen.Generate(ctx, critiquePrompt(rc, output, criteria), e.provider)
	if err != nil {
		return nil, models.TokenUsage{}, err
	}
	usage := models.TokenUsage{
		InputTokens:  gen.InputTokens,
		OutputTokens: gen.OutputTokens,
		TotalTokens:  gen.TokensUsed,
		CostUSD:      gen.CostUSD,
	}

	result := parseCritique(gen.Text)
	applyMinScores(result, criteria)
	return result, usage, nil
}

func (e *Engine) revise(ctx context.Context, rc models.ReflectionContext, output string, result *models.ReflectionResult) (string, models.TokenUsage, error) {
	gen, err := e.gen.Generate(ctx, revisionPrompt(rc, output, result), e.provider)
	if err != nil {
		return "", models.TokenUsage{}, err
	}
	usage := models.TokenUsage{
		InputTokens:  gen.InputTokens,
		OutputTokens: gen.OutputTokens,
		TotalTokens:  gen.TokensUsed,
		CostUSD:      gen.CostUSD,
	}
	return gen.Text, usage, nil
}

// applyMinScores forces NeedsRevision when any criterion scores below its
// independent pass threshold, regardless of what the critique claimed.
func applyMinScores(result *models.ReflectionResult, criteria []models.ReflectionCriteria) {
	for _, c := range criteria {
		score, ok := result.CriteriaScores[c.Category]
		if ok && score < c.MinScore {
			result.NeedsRevision = true
			return
		}
	}
}
