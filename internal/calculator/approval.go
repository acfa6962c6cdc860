package calculator

import "finance-orchestrator/internal/models"

// ApprovalLevelFor routes an amount to its approval band.
func ApprovalLevelFor(amount float64) (models.ApprovalLevel, error) {
	if err := validateAmount("amount", amount); err != nil {
		return "", err
	}

	switch {
	case amount <= AutoApprovalLimit:
		return models.ApprovalAuto, nil
	case amount <= ProjectManagerApprovalLimit:
		return models.ApprovalProjectManager, nil
	case amount <= FinanceDirectorApprovalLimit:
		return models.ApprovalFinanceDirector, nil
	default:
		return models.ApprovalCFO, nil
	}
}

// RequiredApprovers lists the roles that must sign off at a level.
func RequiredApprovers(level models.ApprovalLevel) []string {
	switch level {
	case models.ApprovalProjectManager:
		return []string{"Project Manager", "Finance Manager"}
	case models.ApprovalFinanceDirector:
		return []string{"Finance Director"}
	case models.ApprovalCFO:
		return []string{"CFO", "Finance Director"}
	default:
		return []string{}
	}
}
