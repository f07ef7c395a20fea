package catalog

import "strings"

// Role codes seeded for the arms licensing chain.
const (
	RoleAdmin      = "ADMIN"
	RoleCompliance = "COMPLIANCE"
	RoleApplicant  = "APPLICANT"
	RoleZS         = "ZS"
	RoleSHO        = "SHO"
	RoleACP        = "ACP"
	RoleDCP        = "DCP"
	RoleArmsSupdt  = "ARMS_SUPDT"
	RoleArmsSeat   = "ARMS_SEAT"
	RoleADO        = "ADO"
	RoleJTCP       = "JTCP"
	RoleCP         = "CP"
)

// Queue visibility permissions.
const (
	PermViewFreshForm     = "VIEW_FRESH_FORM"
	PermViewForwarded     = "VIEW_FORWARDED"
	PermViewReturned      = "VIEW_RETURNED"
	PermViewRedFlagged    = "VIEW_RED_FLAGGED"
	PermViewSent          = "VIEW_SENT"
	PermViewDisposed      = "VIEW_DISPOSED"
	PermViewFinalDisposal = "VIEW_FINAL_DISPOSAL"
)

// Workflow action permissions. Forwarding permissions are built with ForwardPermission.
const (
	PermSubmitApplication  = "SUBMIT_APPLICATION"
	PermStartReview        = "START_REVIEW"
	PermReturnApplication  = "RETURN_APPLICATION"
	PermRedFlag            = "RED_FLAG"
	PermClearRedFlag       = "CLEAR_RED_FLAG"
	PermApproveTA          = "APPROVE_TA"
	PermApproveAI          = "APPROVE_AI"
	PermReject             = "REJECT"
	PermDisposeApplication = "DISPOSE_APPLICATION"
	PermForwardAny         = "FORWARD_ANY"
	PermManageReference    = "MANAGE_REFERENCE"
)

// ForwardPrefix prefixes every per-target forwarding permission.
const ForwardPrefix = "FORWARD_TO_"

// ForwardPermission returns the permission code guarding a forward to role.
func ForwardPermission(role string) string {
	return ForwardPrefix + NormalizeCode(role)
}

// NormalizeCode canonicalises role and permission codes.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// ViewScopes lists every queue visibility permission.
func ViewScopes() []string {
	return []string{
		PermViewFreshForm,
		PermViewForwarded,
		PermViewReturned,
		PermViewRedFlagged,
		PermViewSent,
		PermViewDisposed,
		PermViewFinalDisposal,
	}
}
