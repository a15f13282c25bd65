package invoice

// ERPStatus is the Purchase Invoice status reported by ERPNext
type ERPStatus string

const (
	ERPStatusDraft       ERPStatus = "Draft"
	ERPStatusUnpaid      ERPStatus = "Unpaid"
	ERPStatusOverdue     ERPStatus = "Overdue"
	ERPStatusPartlyPaid  ERPStatus = "Partly Paid"
	ERPStatusPaid        ERPStatus = "Paid"
	ERPStatusCancelled   ERPStatus = "Cancelled"
	ERPStatusReturn      ERPStatus = "Return"
	ERPStatusDebitIssued ERPStatus = "Debit Note Issued"
)

// Status is the po_invoices.status value in ProcureUAT
type Status string

const (
	StatusPending       Status = "pending"
	StatusApproved      Status = "approved"
	StatusPartiallyPaid Status = "partially_paid"
	StatusPaid          Status = "paid"
	StatusCancelled     Status = "cancelled"
	StatusReturned      Status = "returned"
)

// ERPNext docstatus values
const (
	DocStatusDraft     = 0
	DocStatusSubmitted = 1
	DocStatusCancelled = 2
)

var erpToExternal = map[ERPStatus]Status{
	ERPStatusDraft:       StatusPending,
	ERPStatusUnpaid:      StatusApproved,
	ERPStatusOverdue:     StatusApproved,
	ERPStatusPartlyPaid:  StatusPartiallyPaid,
	ERPStatusPaid:        StatusPaid,
	ERPStatusCancelled:   StatusCancelled,
	ERPStatusReturn:      StatusReturned,
	ERPStatusDebitIssued: StatusReturned,
}

var externalToERP = map[Status]ERPStatus{
	StatusPending:       ERPStatusDraft,
	StatusApproved:      ERPStatusUnpaid,
	StatusPartiallyPaid: ERPStatusPartlyPaid,
	StatusPaid:          ERPStatusPaid,
	StatusCancelled:     ERPStatusCancelled,
	StatusReturned:      ERPStatusReturn,
}

// IsValid returns true if s is a known ProcureUAT status
func (s Status) IsValid() bool {
	_, ok := externalToERP[s]
	return ok
}

// ToERP maps s to the ERPNext status. Unknown values map to Draft.
func (s Status) ToERP() ERPStatus {
	if v, ok := externalToERP[s]; ok {
		return v
	}
	return ERPStatusDraft
}

// IsValid returns true if s is a known ERPNext status
func (s ERPStatus) IsValid() bool {
	_, ok := erpToExternal[s]
	return ok
}

// ToExternal maps s to the ProcureUAT status. Unknown values map to pending.
func (s ERPStatus) ToExternal() Status {
	if v, ok := erpToExternal[s]; ok {
		return v
	}
	return StatusPending
}
