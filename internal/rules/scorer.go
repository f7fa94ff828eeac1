package rules

import (
	"fmt"

	"negotiation-scoring-go/internal/logger"
	"negotiation-scoring-go/internal/types"
)

// Result carries the deterministic adjustments per dimension plus the audit
// trail of every rule that fired. Pure function of the event list: same
// events in, same result out.
type Result struct {
	Caps      map[types.Dimension][]types.CapAdjustment
	Penalties map[types.Dimension][]types.PenaltyAdjustment
	Triggers  []types.RuleTrigger
}

func emptyResult() Result {
	return Result{
		Caps:      map[types.Dimension][]types.CapAdjustment{},
		Penalties: map[types.Dimension][]types.PenaltyAdjustment{},
	}
}

// evaluator inspects the event sequence for one named rule and reports
// whether it fired, with a human-readable reason.
type evaluator func(events []types.NegotiationEvent, rule Rule) (reason string, fired bool)

var evaluators = map[string]evaluator{
	"unsecured_commitment":      evalUnsecuredCommitment,
	"insufficient_fact_finding": evalInsufficientFactFinding,
	"no_written_notice":         evalNoWrittenNotice,
	"concession_streak":         evalConcessionStreak,
	"no_closeout":               evalNoCloseout,
}

// Score applies the rule table over the extracted events. A rule that panics
// is skipped and logged; it never aborts scoring. minFactQuestions, when
// positive, overrides the table's min_count for fact-finding rules.
func Score(events []types.NegotiationEvent, table Table, minFactQuestions int) Result {
	log := logger.New().WithField("component", "deterministic-scorer").WithField("rules_version", table.RulesVersion)
	res := emptyResult()

	for _, rule := range table.Rules {
		eval, ok := evaluators[rule.Name]
		if !ok {
			log.WithField("rule", rule.Name).Warn("rule has no evaluator, skipping")
			continue
		}
		if rule.Name == "insufficient_fact_finding" && minFactQuestions > 0 {
			rule.MinCount = minFactQuestions
		}

		reason, fired := safeEval(eval, events, rule, log)
		if !fired {
			continue
		}

		impact := types.RuleImpact{Dimension: rule.Dimension, Kind: rule.Kind, Value: rule.Value}
		res.Triggers = append(res.Triggers, types.RuleTrigger{Rule: rule.Name, Reason: reason, Impact: impact})

		switch rule.Kind {
		case "cap":
			res.Caps[rule.Dimension] = append(res.Caps[rule.Dimension], types.CapAdjustment{Rule: rule.Name, CapValue: rule.Value})
		case "penalty":
			res.Penalties[rule.Dimension] = append(res.Penalties[rule.Dimension], types.PenaltyAdjustment{Rule: rule.Name, PenaltyValue: rule.Value})
		}
		log.WithField("rule", rule.Name).WithField("reason", reason).Info("rule triggered")
	}

	return res
}

func safeEval(eval evaluator, events []types.NegotiationEvent, rule Rule, log interface{ Warn(...any) }) (reason string, fired bool) {
	defer func() {
		if r := recover(); r != nil {
			log.Warn(fmt.Sprintf("rule %s panicked and was skipped: %v", rule.Name, r))
			reason, fired = "", false
		}
	}()
	return eval(events, rule)
}

// A verbal promise from the trainee with no earlier trainee consideration
// means nothing was secured in exchange.
func evalUnsecuredCommitment(events []types.NegotiationEvent, _ Rule) (string, bool) {
	seenConsideration := false
	for _, ev := range events {
		if ev.Speaker == types.SpeakerTrainee && ev.EventType == types.EventConsideration {
			seenConsideration = true
		}
		if ev.Speaker == types.SpeakerTrainee && ev.EventType == types.EventRiskyCommitment && !seenConsideration {
			return fmt.Sprintf("risky commitment at turn %d with no preceding consideration", ev.TurnIndex), true
		}
	}
	return "", false
}

func evalInsufficientFactFinding(events []types.NegotiationEvent, rule Rule) (string, bool) {
	count := 0
	for _, ev := range events {
		if ev.Speaker == types.SpeakerTrainee && ev.EventType == types.EventAskFacts {
			count++
		}
	}
	if count < rule.MinCount {
		return fmt.Sprintf("only %d fact-finding questions asked, expected at least %d", count, rule.MinCount), true
	}
	return "", false
}

func evalNoWrittenNotice(events []types.NegotiationEvent, _ Rule) (string, bool) {
	for _, ev := range events {
		if ev.EventType == types.EventRequestWrittenNotice {
			return "", false
		}
	}
	return "no request for written documentation anywhere in the session", true
}

// Two trainee concessions in a row with no consideration asked in between.
func evalConcessionStreak(events []types.NegotiationEvent, _ Rule) (string, bool) {
	lastConcessionTurn := -1
	for _, ev := range events {
		if ev.Speaker != types.SpeakerTrainee {
			continue
		}
		switch ev.EventType {
		case types.EventConcession:
			if lastConcessionTurn >= 0 {
				return fmt.Sprintf("back-to-back concessions at turns %d and %d with nothing asked in return", lastConcessionTurn, ev.TurnIndex), true
			}
			lastConcessionTurn = ev.TurnIndex
		case types.EventConsideration:
			lastConcessionTurn = -1
		}
	}
	return "", false
}

func evalNoCloseout(events []types.NegotiationEvent, _ Rule) (string, bool) {
	for _, ev := range events {
		if ev.EventType == types.EventCloseout {
			return "", false
		}
	}
	return "the negotiation never reached a recorded conclusion", true
}
