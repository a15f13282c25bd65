package handler

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"

	numberingapp "github.com/o2o/erpsync/internal/application/numbering"
	"github.com/o2o/erpsync/internal/domain/numbering"
	"github.com/o2o/erpsync/internal/interfaces/http/dto"
)

const dateLayout = "2006-01-02"

// NumberAllocator is the part of the allocator the numbering endpoints use.
// *numberingapp.Allocator implements it.
type NumberAllocator interface {
	Allocate(ctx context.Context, prefix, financialYear string) (*numbering.Allocation, error)
	AllocateOrFallback(ctx context.Context, prefix, financialYear string) (*numbering.Allocation, error)
	Counter(ctx context.Context, prefix, financialYear string) (*numbering.Counter, error)
	Counters(ctx context.Context, prefix string) ([]numbering.Counter, error)
	Config() numberingapp.Config
}

// NumberingHandler serves invoice number allocation and counter inspection
type NumberingHandler struct {
	BaseHandler
	allocator NumberAllocator
	now       func() time.Time
}

// NewNumberingHandler creates a new NumberingHandler
func NewNumberingHandler(allocator NumberAllocator) *NumberingHandler {
	return &NumberingHandler{allocator: allocator, now: time.Now}
}

// Allocate godoc
// @ID           allocateInvoiceNumber
// @Summary      Allocate the next invoice number
// @Description  Issues PREFIX/FY/NNNN from the counter. With allow_fallback and a
// @Description  configured fallback marker, an unreachable store yields a marked
// @Description  provisional name instead of 503.
// @Tags         invoice-numbers
// @Accept       json
// @Produce      json
// @Param        request body AllocateNumberRequest true "Allocation request"
// @Success      201 {object} APIResponse[numbering.Allocation]
// @Failure      400 {object} ErrorResponse
// @Failure      503 {object} ErrorResponse
// @Router       /invoice-numbers [post]
func (h *NumberingHandler) Allocate(c *gin.Context) {
	var req AllocateNumberRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.BindError(c, err)
		return
	}

	prefix := req.Prefix
	if prefix == "" {
		prefix = h.allocator.Config().DefaultPrefix
	}

	fy, err := h.financialYear(req.FinancialYear, req.Date)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	allocate := h.allocator.Allocate
	if req.AllowFallback {
		allocate = h.allocator.AllocateOrFallback
	}
	alloc, err := allocate(c.Request.Context(), prefix, fy)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Created(c, alloc)
}

// financialYear resolves the request's year: explicit label, else the
// year containing date, else the current year.
func (h *NumberingHandler) financialYear(label, date string) (string, error) {
	if label != "" {
		return label, nil
	}
	if date == "" {
		return numbering.FiscalYearOf(h.now()).String(), nil
	}
	t, err := time.Parse(dateLayout, date)
	if err != nil {
		return "", numbering.ErrInvalidInput
	}
	return numbering.FiscalYearOf(t).String(), nil
}

// FiscalYear godoc
// @ID           getFiscalYear
// @Summary      Financial year of a date
// @Description  Returns the April to March financial year containing date (default today)
// @Tags         invoice-numbers
// @Produce      json
// @Param        date query string false "Date as YYYY-MM-DD"
// @Success      200 {object} APIResponse[FiscalYearResponse]
// @Failure      400 {object} ErrorResponse
// @Router       /invoice-numbers/fiscal-year [get]
func (h *NumberingHandler) FiscalYear(c *gin.Context) {
	t := h.now()
	if s := c.Query("date"); s != "" {
		parsed, err := time.Parse(dateLayout, s)
		if err != nil {
			h.ErrorWithCode(c, dto.ErrCodeInvalidInput, "date must be formatted as YYYY-MM-DD")
			return
		}
		t = parsed
	}

	fy := numbering.FiscalYearOf(t)
	h.Success(c, FiscalYearResponse{
		Date:          t.Format(dateLayout),
		FinancialYear: fy.String(),
		StartsOn:      fy.StartDate(t, time.UTC).Format(dateLayout),
		EndsOn:        fy.EndDate(t, time.UTC).Format(dateLayout),
	})
}

// GetCounter godoc
// @ID           getInvoiceCounter
// @Summary      Get one invoice counter
// @Tags         invoice-numbers
// @Produce      json
// @Param        prefix path string true "Invoice prefix"
// @Param        fy path string true "Financial year, e.g. 25-26"
// @Success      200 {object} APIResponse[CounterResponse]
// @Failure      400 {object} ErrorResponse
// @Failure      404 {object} ErrorResponse
// @Router       /invoice-numbers/counters/{prefix}/{fy} [get]
func (h *NumberingHandler) GetCounter(c *gin.Context) {
	counter, err := h.allocator.Counter(c.Request.Context(), c.Param("prefix"), c.Param("fy"))
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, toCounterResponse(*counter, h.allocator.Config().PadWidth))
}

// ListCounters godoc
// @ID           listInvoiceCounters
// @Summary      List invoice counters
// @Tags         invoice-numbers
// @Produce      json
// @Param        prefix query string false "Only counters with this prefix"
// @Success      200 {object} APIResponse[[]CounterResponse]
// @Failure      503 {object} ErrorResponse
// @Router       /invoice-numbers/counters [get]
func (h *NumberingHandler) ListCounters(c *gin.Context) {
	counters, err := h.allocator.Counters(c.Request.Context(), c.Query("prefix"))
	if err != nil {
		h.HandleError(c, err)
		return
	}
	width := h.allocator.Config().PadWidth
	out := make([]CounterResponse, 0, len(counters))
	for _, ctr := range counters {
		out = append(out, toCounterResponse(ctr, width))
	}
	h.List(c, out, len(out), 0)
}
