package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"negotiation-scoring-go/internal/achievements"
	"negotiation-scoring-go/internal/combos"
	"negotiation-scoring-go/internal/config"
	"negotiation-scoring-go/internal/extractor"
	"negotiation-scoring-go/internal/grader"
	"negotiation-scoring-go/internal/ingest"
	"negotiation-scoring-go/internal/llm"
	"negotiation-scoring-go/internal/logger"
	"negotiation-scoring-go/internal/normalizer"
	"negotiation-scoring-go/internal/rules"
	"negotiation-scoring-go/internal/tips"
	"negotiation-scoring-go/internal/types"
)

// Versions stamped into every report's provenance block.
const (
	ReportSchemaVersion = "1.0"
	ScoringVersion      = "1.0"
)

// gradeThresholds maps the mean of the five final dimension scores to a
// letter grade. Checked top-down, first match wins.
var gradeThresholds = []struct {
	min   float64
	grade string
}{
	{90, "A"},
	{80, "B"},
	{70, "C"},
	{60, "D"},
	{0, "F"},
}

// Pipeline sequences the scoring stages over one completed session. A
// Pipeline is immutable after construction and safe for concurrent jobs.
type Pipeline struct {
	cfg       config.ScoringConfig
	table     rules.Table
	library   combos.Library
	extractor *extractor.Extractor
	grader    *grader.Grader
	tips      *tips.Generator
}

func New(cfg config.ScoringConfig, completer llm.Completer) (*Pipeline, error) {
	table, err := rules.LoadTable(cfg.RulesPath)
	if err != nil {
		return nil, fmt.Errorf("load rule table: %w", err)
	}
	return &Pipeline{
		cfg:       cfg,
		table:     table,
		library:   combos.DefaultLibrary(),
		extractor: extractor.New(completer, cfg),
		grader:    grader.New(completer, cfg),
		tips:      tips.New(completer, cfg),
	}, nil
}

// Run converts a raw transcript into a complete after-action report. The
// only fatal outcome is a structurally invalid transcript; every stage
// failure past that point degrades the report and is recorded in its errors
// block. The terminal state is always a fully assembled report.
func (p *Pipeline) Run(ctx context.Context, raw types.RawTranscript) (types.AfterActionReport, error) {
	log := logger.New().WithSession(raw.SessionID, raw.ScenarioID).WithField("component", "pipeline")

	if err := ingest.Validate(raw); err != nil {
		return types.AfterActionReport{}, fmt.Errorf("structural transcript error: %w", err)
	}
	// duration is derived, not trusted from the transport
	if raw.SessionDuration == 0 && raw.SessionEndTime > raw.SessionStartTime {
		raw.SessionDuration = raw.SessionEndTime - raw.SessionStartTime
	}
	log.WithField("state", "CAPTURED").WithField("turns", len(raw.Turns)).Info("scoring job started")

	var errs types.ScoringErrors

	// Stage 2: normalization. Falls back to the raw text wholesale if the
	// cleaned transcript ever stops mirroring the source turn-for-turn.
	nt, notes := normalizer.Normalize(raw)
	for _, note := range notes {
		errs.Add(note)
	}
	if !aligned(raw, nt) {
		errs.NormalizationFailed = true
		errs.Add("normalization broke turn alignment; raw transcript passed through unmodified")
		nt = normalizer.Passthrough(raw)
	}
	log.WithField("state", "NORMALIZED").Debug("normalization complete")

	// Stage 3: event extraction. An empty list downstream means "no
	// evidence found", never an error.
	events, err := p.runExtraction(ctx, nt)
	if err != nil {
		errs.EventExtractionFailed = true
		errs.Add(fmt.Sprintf("event extraction failed: %v", err))
		events = nil
	}
	log.WithField("state", "EXTRACTED").WithField("events", len(events)).Info("extraction complete")

	// Stage 4: deterministic scoring. Degrades toward zero adjustments, so
	// the rubric grade passes through unmodified.
	det := p.runDeterministic(events, &errs)
	log.WithField("state", "DETERMINISTIC_SCORED").WithField("rule_triggers", len(det.Triggers)).Info("deterministic scoring complete")

	// Stages 5-7: rubric grading and the two detectors read only the
	// extracted events and the deterministic result, so they run
	// concurrently. Each goroutine writes its own locals; degradation is
	// merged into errs only after Wait, so the error block is never shared
	// across goroutines.
	var grades map[types.Dimension]grader.Grade
	var gradeFailures []string
	var earned []types.Achievement
	var moments []types.ComboMoment
	var achievementFailure, comboFailure string

	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		grades, gradeFailures = p.runGrading(egCtx, nt, events, det)
		return nil
	})
	eg.Go(func() error {
		earned, achievementFailure = p.runAchievements(events)
		moments, comboFailure = p.runCombos(events)
		return nil
	})
	_ = eg.Wait()

	if len(gradeFailures) > 0 {
		errs.RubricGradingFailed = true
		for _, msg := range gradeFailures {
			errs.Add(msg)
		}
	}
	if achievementFailure != "" {
		errs.AchievementDetectionFailed = true
		errs.Add(achievementFailure)
	}
	if comboFailure != "" {
		errs.ComboDetectionFailed = true
		errs.Add(comboFailure)
	}
	log.WithField("state", "GRADED").Debug("rubric grading complete")
	log.WithField("state", "ENRICHED").WithFields(map[string]any{
		"achievements": len(earned),
		"combos":       len(moments),
	}).Info("detectors complete")

	stats := composeStats(grades, det, moments)

	// Stage 8: tips. Lowest criticality; absence never blocks the report.
	improvementTips, err := p.runTips(ctx, nt, events, stats, earned, moments)
	if err != nil {
		errs.TipGenerationFailed = true
		errs.Add(fmt.Sprintf("tip generation failed: %v", err))
		improvementTips = nil
	}
	log.WithField("state", "TIPPED").WithField("tips", len(improvementTips)).Debug("tip generation complete")

	report := types.AfterActionReport{
		ReportID:             p.reportID(raw.SessionID),
		SessionMetadata:      raw.Metadata(),
		PrimaryStats:         stats,
		LetterGrade:          letterGrade(stats),
		Achievements:         earned,
		ComboMoments:         moments,
		ImprovementTips:      improvementTips,
		RawTranscript:        raw,
		NormalizedTranscript: nt,
		ExtractedEvents:      events,
		ScoringMetadata: types.ScoringMetadata{
			ReportSchemaVersion: ReportSchemaVersion,
			ScoringVersion:      ScoringVersion,
			RulesVersion:        p.table.RulesVersion,
			Models: map[string]string{
				"event_extraction": p.cfg.ExtractionModel,
				"rubric_grading":   p.cfg.GradingModel,
				"tip_generation":   p.cfg.TipModel,
			},
			PromptHashes: map[string]string{
				"event_extraction": extractor.PromptHash(),
				"rubric_grading":   grader.PromptHash(),
				"tip_generation":   tips.PromptHash(),
			},
			GeneratedAt:  float64(time.Now().UnixNano()) / float64(time.Second),
			RuleTriggers: det.Triggers,
		},
		Errors: errs,
	}

	log.WithField("state", "ASSEMBLED").WithFields(map[string]any{
		"letter_grade": report.LetterGrade,
		"degraded":     errs.Any(),
	}).Info("report assembled")
	return report, nil
}

func (p *Pipeline) runExtraction(ctx context.Context, nt types.NormalizedTranscript) ([]types.NegotiationEvent, error) {
	stageCtx, cancel := context.WithTimeout(ctx, p.cfg.StageTimeout)
	defer cancel()
	return p.extractor.Extract(stageCtx, nt)
}

func (p *Pipeline) runDeterministic(events []types.NegotiationEvent, errs *types.ScoringErrors) (res rules.Result) {
	defer func() {
		if r := recover(); r != nil {
			errs.DeterministicScoringFailed = true
			errs.Add(fmt.Sprintf("deterministic scoring failed: %v", r))
			res = rules.Result{
				Caps:      map[types.Dimension][]types.CapAdjustment{},
				Penalties: map[types.Dimension][]types.PenaltyAdjustment{},
			}
		}
	}()
	return rules.Score(events, p.table, p.cfg.MinFactQuestions)
}

func (p *Pipeline) runGrading(ctx context.Context, nt types.NormalizedTranscript, events []types.NegotiationEvent, det rules.Result) (map[types.Dimension]grader.Grade, []string) {
	// Zero turns means zero evidence; grade at the floor without a model
	// call rather than asking for a judgment of nothing.
	if len(nt.Turns) == 0 {
		grades := make(map[types.Dimension]grader.Grade, len(types.AllDimensions))
		for _, dim := range types.AllDimensions {
			grades[dim] = grader.Grade{
				RubricScore:   types.ScoreFloor,
				Justification: "The session contained no conversation to assess.",
			}
		}
		return grades, nil
	}

	stageCtx, cancel := context.WithTimeout(ctx, p.cfg.StageTimeout)
	defer cancel()
	return p.grader.Grade(stageCtx, nt, events, det)
}

func (p *Pipeline) runAchievements(events []types.NegotiationEvent) (out []types.Achievement, failure string) {
	defer func() {
		if r := recover(); r != nil {
			failure = fmt.Sprintf("achievement detection failed: %v", r)
			out = nil
		}
	}()
	return achievements.Detect(events), ""
}

func (p *Pipeline) runCombos(events []types.NegotiationEvent) (out []types.ComboMoment, failure string) {
	defer func() {
		if r := recover(); r != nil {
			failure = fmt.Sprintf("combo detection failed: %v", r)
			out = nil
		}
	}()
	return combos.Detect(events, p.library), ""
}

func (p *Pipeline) runTips(ctx context.Context, nt types.NormalizedTranscript, events []types.NegotiationEvent, stats types.PrimaryStats, earned []types.Achievement, moments []types.ComboMoment) ([]types.ImprovementTip, error) {
	stageCtx, cancel := context.WithTimeout(ctx, p.cfg.StageTimeout)
	defer cancel()
	return p.tips.Generate(stageCtx, nt, events, stats, earned, moments)
}

// composeStats combines the rubric grade with deterministic caps/penalties
// per dimension, then folds combo impacts into the presented score. The
// composition itself stays recomputable from its own fields.
func composeStats(grades map[types.Dimension]grader.Grade, det rules.Result, moments []types.ComboMoment) types.PrimaryStats {
	comboImpact := map[types.Dimension]int{}
	for _, m := range moments {
		comboImpact[m.Dimension] += m.ScoreImpact
	}

	stats := make(types.PrimaryStats, len(types.AllDimensions))
	for _, dim := range types.AllDimensions {
		grade := grades[dim]
		comp := types.Compose(grade.RubricScore, det.Caps[dim], det.Penalties[dim])
		stats[dim] = types.PrimaryStat{
			Score:         types.Clamp(comp.FinalScore + comboImpact[dim]),
			Justification: grade.Justification,
			Composition:   comp,
		}
	}
	return stats
}

// reportID is a name-based UUID over the session and the scoring
// configuration, so rescoring identical input under the same versions
// reproduces the same id; only generated_at varies between such runs.
func (p *Pipeline) reportID(sessionID string) string {
	name := fmt.Sprintf("negotiation-scoring/%s/%s/%s", sessionID, ScoringVersion, p.table.RulesVersion)
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(name)).String()
}

func letterGrade(stats types.PrimaryStats) string {
	if len(stats) == 0 {
		return "F"
	}
	total := 0
	for _, dim := range types.AllDimensions {
		total += stats[dim].Score
	}
	mean := float64(total) / float64(len(types.AllDimensions))
	for _, t := range gradeThresholds {
		if mean >= t.min {
			return t.grade
		}
	}
	return "F"
}

// aligned verifies the normalization invariant: same turn count, same
// indices, same order.
func aligned(raw types.RawTranscript, nt types.NormalizedTranscript) bool {
	if len(raw.Turns) != len(nt.Turns) {
		return false
	}
	for i := range raw.Turns {
		if raw.Turns[i].TurnIndex != nt.Turns[i].TurnIndex {
			return false
		}
	}
	return true
}
