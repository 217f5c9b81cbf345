package project

import (
	"escra/internal/models"
)

// projectTransitions is the closed transition table for the project state
// machine. Anything not listed is rejected at the boundary.
var projectTransitions = map[models.ProjectStatus][]models.ProjectStatus{
	models.ProjectDraft:             {models.ProjectPendingAcceptance, models.ProjectCancelled},
	models.ProjectPendingAcceptance: {models.ProjectAwaitingDeposit, models.ProjectDraft, models.ProjectCancelled},
	models.ProjectAwaitingDeposit:   {models.ProjectActive, models.ProjectCancelled},
	models.ProjectActive:            {models.ProjectCompleted, models.ProjectCancelled, models.ProjectDisputed},
	// A dispute resolving without terminating the project returns it to ACTIVE.
	models.ProjectDisputed:  {models.ProjectActive, models.ProjectCompleted, models.ProjectCancelled},
	models.ProjectCompleted: {models.ProjectArchived},
	models.ProjectCancelled: {models.ProjectArchived},
	models.ProjectArchived:  {},
}

// milestoneTransitions is the closed transition table for the milestone state
// machine. DISPUTED is terminal from the milestone's own perspective; the
// dispute workflow drives APPROVED or REFUNDED from there.
var milestoneTransitions = map[models.MilestoneStatus][]models.MilestoneStatus{
	models.MilestonePending:           {models.MilestoneInProgress},
	models.MilestoneInProgress:        {models.MilestoneSubmitted, models.MilestoneDisputed},
	models.MilestoneSubmitted:         {models.MilestoneApproved, models.MilestoneRevisionRequested, models.MilestoneDisputed},
	models.MilestoneRevisionRequested: {models.MilestoneInProgress},
	models.MilestoneDisputed:          {models.MilestoneApproved, models.MilestoneRefunded},
	models.MilestoneApproved:          {},
	models.MilestoneRefunded:          {},
}

func canProjectTransition(from, to models.ProjectStatus) bool {
	for _, next := range projectTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

func canMilestoneTransition(from, to models.MilestoneStatus) bool {
	for _, next := range milestoneTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
