package chaos

import (
	"context"

	"cluster-chaos/internal/stability"
)

func validationResult(report stability.Report, err error, e *ActionError) (ValidationResult, error) {
	if err != nil {
		return ValidationResult{}, err
	}
	if report.Failed {
		e.Code = CodeValidationFailed
		e.Message = report.Reason
		return ValidationResult{}, e
	}
	return ValidationResult{Report: report}, nil
}

func validateService(ctx context.Context, inv *Invocation, a *ValidateService) (ValidationResult, error) {
	if a.ServiceName == "" {
		return ValidationResult{}, invalidParameters("validate service needs a service name")
	}
	report, err := inv.validator.ValidateService(ctx, a.ServiceName, inv.Budget.Remaining(), a.Checks)
	return validationResult(report, err, &ActionError{ServiceName: a.ServiceName})
}

func validateApplication(ctx context.Context, inv *Invocation, a *ValidateApplication) (ValidationResult, error) {
	if a.ApplicationName == "" {
		return ValidationResult{}, invalidParameters("validate application needs an application name")
	}
	report, err := inv.validator.ValidateApplication(ctx, a.ApplicationName, inv.Budget.Remaining(), a.Checks)
	return validationResult(report, err, &ActionError{})
}

func validateCluster(ctx context.Context, inv *Invocation, a *ValidateCluster) (ValidationResult, error) {
	report, err := inv.validator.ValidateCluster(ctx, inv.Budget.Remaining(), a.Checks)
	return validationResult(report, err, &ActionError{})
}
