package dto

// ResolveAlertRequest closes a reconciliation alert
type ResolveAlertRequest struct {
	Note string `json:"note" binding:"required"`
}

// AlertListQuery filters the reconciliation alert list
type AlertListQuery struct {
	OpenOnly bool `form:"open_only"`
}
