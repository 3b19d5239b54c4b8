// Package archival rolls aged live samples into daily archive rows and
// drives the daily archival/retention run.
//
// The run is governed by a policy derived from the singleton
// ArchivalSetting:
//
//	archive_after_days  delete_after_days  state             steps
//	set                 unset              archive_only      archive
//	unset               set                retention_only    delete live
//	unset               unset              no_policy         none
//	set                 set, > archive     both_effective    archive, delete archive
//	set                 set, <= archive    both_ineffective  delete live
//
// The state is recomputed from the setting at the start of every run.
package archival

import (
	"fmt"
	"strings"
	"time"

	"github.com/xtxerr/vitals/internal/storage/types"
)

// State is the archival policy state.
type State int

const (
	StateNoPolicy State = iota
	StateArchiveOnly
	StateRetentionOnly
	StateBothEffective

	// StateBothIneffective: rows would be deleted before they reach the
	// archive threshold, so the run behaves as retention only.
	StateBothIneffective
)

func (s State) String() string {
	switch s {
	case StateNoPolicy:
		return "no_policy"
	case StateArchiveOnly:
		return "archive_only"
	case StateRetentionOnly:
		return "retention_only"
	case StateBothEffective:
		return "both_effective"
	case StateBothIneffective:
		return "both_ineffective"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// PolicyState classifies a setting.
func PolicyState(s types.ArchivalSetting) State {
	archive, del := s.ArchiveAfterDays, s.DeleteAfterDays
	switch {
	case archive == nil && del == nil:
		return StateNoPolicy
	case del == nil:
		return StateArchiveOnly
	case archive == nil:
		return StateRetentionOnly
	case *del > *archive:
		return StateBothEffective
	default:
		return StateBothIneffective
	}
}

// StepKind is one unit of work of a daily run.
type StepKind int

const (
	StepArchive StepKind = iota + 1
	StepDeleteArchive
	StepDeleteLive
)

func (k StepKind) String() string {
	switch k {
	case StepArchive:
		return "archive"
	case StepDeleteArchive:
		return "delete_archive"
	case StepDeleteLive:
		return "delete_live"
	default:
		return fmt.Sprintf("StepKind(%d)", int(k))
	}
}

// Step is a step with its cutoff date. Rows strictly older than Cutoff
// are affected.
type Step struct {
	Kind   StepKind
	Cutoff time.Time
}

func (s Step) String() string {
	return fmt.Sprintf("%s(<%s)", s.Kind, s.Cutoff.Format(time.DateOnly))
}

// Plan is what a daily run does for one setting at one instant.
type Plan struct {
	Setting types.ArchivalSetting
	State   State
	Steps   []Step
}

// String formats the plan for logs and the CLI.
func (p Plan) String() string {
	if len(p.Steps) == 0 {
		return p.State.String() + ": nothing to do"
	}
	steps := make([]string, len(p.Steps))
	for i, s := range p.Steps {
		steps[i] = s.String()
	}
	return p.State.String() + ": " + strings.Join(steps, ", ")
}

// Cutoff returns UTC midnight of now minus days.
func Cutoff(now time.Time, days int) time.Time {
	return types.Day(now).AddDate(0, 0, -days)
}

// PlanFor computes the plan for setting at now.
func PlanFor(setting types.ArchivalSetting, now time.Time) Plan {
	plan := Plan{Setting: setting, State: PolicyState(setting)}

	switch plan.State {
	case StateArchiveOnly:
		plan.Steps = []Step{
			{Kind: StepArchive, Cutoff: Cutoff(now, *setting.ArchiveAfterDays)},
		}
	case StateRetentionOnly, StateBothIneffective:
		plan.Steps = []Step{
			{Kind: StepDeleteLive, Cutoff: Cutoff(now, *setting.DeleteAfterDays)},
		}
	case StateBothEffective:
		plan.Steps = []Step{
			{Kind: StepArchive, Cutoff: Cutoff(now, *setting.ArchiveAfterDays)},
			{Kind: StepDeleteArchive, Cutoff: Cutoff(now, *setting.DeleteAfterDays)},
		}
	}
	return plan
}
