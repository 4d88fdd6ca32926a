package billing

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/ehr/cashier/internal/platform/openmrs"
	"github.com/ehr/cashier/internal/platform/search"
	"github.com/ehr/cashier/pkg/pagination"
)

// SearchSessionHeader identifies one search box so that only its latest
// query returns results.
const SearchSessionHeader = "X-Search-Session"

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/bills", h.ListBills)
	api.GET("/bills/:uuid", h.GetBill)
	api.POST("/bills/:uuid", h.ProcessPayment)
	api.POST("/bills/:uuid/waiver", h.WaiveBill)
	api.GET("/patients/:uuid/outstanding", h.Outstanding)
	api.GET("/reports/bills", h.Report)

	api.POST("/carts", h.CreateCart)
	api.GET("/carts/:id", h.GetCart)
	api.POST("/carts/:id/items", h.AddCartItem)
	api.PUT("/carts/:id/items/:uuid", h.SetCartQuantity)
	api.DELETE("/carts/:id/items/:uuid", h.RemoveCartItem)
	api.POST("/carts/:id/submit", h.SubmitCart)
	api.GET("/search/billable-items", h.SearchBillableItems)

	api.GET("/billable-services", h.ListServices)
	api.POST("/billable-services", h.CreateService)
	api.PUT("/billable-services/:uuid", h.UpdateService)
	api.GET("/commodities", h.ListCommodities)
	api.POST("/commodities", h.CreateCommodity)
	api.PUT("/commodities/:uuid", h.UpdateCommodity)
	api.DELETE("/commodities/:uuid", h.DeleteCommodity)
	api.GET("/payment-modes", h.ListPaymentModes)
	api.GET("/stock-items", h.SearchStockItems)
	api.GET("/concepts", h.SearchConcepts)
}

// fail turns a service error into the HTTP response for it.
func fail(c echo.Context, err error) error {
	var (
		verr   *ValidationError
		apiErr *openmrs.APIError
		urlErr *url.Error
	)
	switch {
	case errors.As(err, &verr):
		return c.JSON(http.StatusUnprocessableEntity, map[string]interface{}{
			"message": "validation failed",
			"errors":  verr.Errors,
		})
	case errors.Is(err, ErrWaiverModeNotFound):
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, ErrCartNotFound), errors.Is(err, ErrBillNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, search.ErrSuperseded):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.As(err, &apiErr):
		if apiErr.StatusCode >= 400 && apiErr.StatusCode < 500 {
			return echo.NewHTTPError(apiErr.StatusCode, apiErr.Message)
		}
		return echo.NewHTTPError(http.StatusBadGateway, apiErr.Message)
	case errors.Is(err, context.DeadlineExceeded):
		return echo.NewHTTPError(http.StatusGatewayTimeout, "backend request timed out")
	case errors.As(err, &urlErr):
		zerolog.Ctx(c.Request().Context()).Error().Err(err).Msg("backend unreachable")
		return echo.NewHTTPError(http.StatusBadGateway, "billing backend unreachable")
	}
	return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
}

// -- Bills --

func (h *Handler) ListBills(c echo.Context) error {
	var opts ListOptions
	switch status := PaymentStatus(c.QueryParam("status")); status {
	case "":
	case StatusPaid, StatusPending:
		opts.Status = status
	default:
		return echo.NewHTTPError(http.StatusBadRequest, "status must be PAID or PENDING")
	}
	if d := c.QueryParam("date"); d != "" {
		day, err := time.ParseInLocation("2006-01-02", d, time.Local)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid date, expected YYYY-MM-DD")
		}
		opts.Day = &day
	}

	bills, err := h.svc.ListBills(c.Request().Context(), c.QueryParam("patient_uuid"), opts)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, pagination.Slice(bills, pagination.FromContext(c)))
}

func (h *Handler) GetBill(c echo.Context) error {
	bill, err := h.svc.GetBill(c.Request().Context(), c.Param("uuid"))
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, bill)
}

func (h *Handler) ProcessPayment(c echo.Context) error {
	var payload BillPayload
	if err := c.Bind(&payload); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.ProcessPayment(c.Request().Context(), c.Param("uuid"), &payload); err != nil {
		return fail(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

type waiverRequest struct {
	AmountWaived float64 `json:"amount_waived"`
}

func (h *Handler) WaiveBill(c echo.Context) error {
	var req waiverRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	payload, err := h.svc.WaiveBill(c.Request().Context(), c.Param("uuid"), req.AmountWaived)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, payload)
}

func (h *Handler) Outstanding(c echo.Context) error {
	out, err := h.svc.Outstanding(c.Request().Context(), c.Param("uuid"))
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, out)
}

// parseBound accepts a date or an RFC 3339 timestamp. A bare end date
// covers the whole day.
func parseBound(s string, end bool) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	t, err := time.ParseInLocation("2006-01-02", s, time.Local)
	if err != nil {
		return time.Time{}, err
	}
	if end {
		_, t = DayBounds(t)
	}
	return t, nil
}

func (h *Handler) Report(c echo.Context) error {
	start, err := parseBound(c.QueryParam("start"), false)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid start, expected YYYY-MM-DD or RFC 3339")
	}
	end, err := parseBound(c.QueryParam("end"), true)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid end, expected YYYY-MM-DD or RFC 3339")
	}
	rows, err := h.svc.Report(c.Request().Context(), start, end)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"start": start,
		"end":   end,
		"rows":  rows,
	})
}

// -- Carts --

func cartID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid cart id")
	}
	return id, nil
}

type cartRequest struct {
	PatientUUID string `json:"patient_uuid"`
}

func (h *Handler) CreateCart(c echo.Context) error {
	var req cartRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	cart, err := h.svc.NewCart(req.PatientUUID)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusCreated, cart)
}

func (h *Handler) GetCart(c echo.Context) error {
	id, err := cartID(c)
	if err != nil {
		return err
	}
	cart, err := h.svc.GetCart(id)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, cart)
}

func (h *Handler) AddCartItem(c echo.Context) error {
	id, err := cartID(c)
	if err != nil {
		return err
	}
	var item CartItem
	if err := c.Bind(&item); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	cart, err := h.svc.AddCartItem(id, item)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, cart)
}

type quantityRequest struct {
	Quantity int `json:"quantity"`
}

func (h *Handler) SetCartQuantity(c echo.Context) error {
	id, err := cartID(c)
	if err != nil {
		return err
	}
	var req quantityRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	cart, err := h.svc.SetCartQuantity(id, c.Param("uuid"), req.Quantity)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, cart)
}

func (h *Handler) RemoveCartItem(c echo.Context) error {
	id, err := cartID(c)
	if err != nil {
		return err
	}
	cart, err := h.svc.RemoveCartItem(id, c.Param("uuid"))
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, cart)
}

func (h *Handler) SubmitCart(c echo.Context) error {
	id, err := cartID(c)
	if err != nil {
		return err
	}
	bill, err := h.svc.SubmitCart(c.Request().Context(), id)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusCreated, bill)
}

func (h *Handler) SearchBillableItems(c echo.Context) error {
	session := c.Request().Header.Get(SearchSessionHeader)
	if session == "" {
		session = c.QueryParam("session")
	}
	items, err := h.svc.SearchBillableItems(c.Request().Context(), session,
		ItemCategory(c.QueryParam("category")), c.QueryParam("q"))
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, items)
}

// -- Catalog --

func (h *Handler) ListServices(c echo.Context) error {
	services, err := h.svc.ListServices(c.Request().Context(), c.QueryParam("q"))
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, pagination.Slice(services, pagination.FromContext(c)))
}

func (h *Handler) CreateService(c echo.Context) error {
	var svc BillableService
	if err := c.Bind(&svc); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.CreateService(c.Request().Context(), &svc); err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusCreated, svc)
}

func (h *Handler) UpdateService(c echo.Context) error {
	var svc BillableService
	if err := c.Bind(&svc); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.UpdateService(c.Request().Context(), c.Param("uuid"), &svc); err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, svc)
}

func (h *Handler) ListCommodities(c echo.Context) error {
	items, err := h.svc.ListCommodities(c.Request().Context(), c.QueryParam("q"))
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, pagination.Slice(items, pagination.FromContext(c)))
}

func (h *Handler) CreateCommodity(c echo.Context) error {
	var item CashierItem
	if err := c.Bind(&item); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.SaveCommodity(c.Request().Context(), "", &item); err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusCreated, item)
}

func (h *Handler) UpdateCommodity(c echo.Context) error {
	var item CashierItem
	if err := c.Bind(&item); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.SaveCommodity(c.Request().Context(), c.Param("uuid"), &item); err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, item)
}

func (h *Handler) DeleteCommodity(c echo.Context) error {
	if err := h.svc.DeleteCommodity(c.Request().Context(), c.Param("uuid")); err != nil {
		return fail(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) ListPaymentModes(c echo.Context) error {
	modes, err := h.svc.ListPaymentModes(c.Request().Context())
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, modes)
}

func (h *Handler) SearchStockItems(c echo.Context) error {
	items, err := h.svc.SearchStockItems(c.Request().Context(), c.QueryParam("q"))
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) SearchConcepts(c echo.Context) error {
	concepts, err := h.svc.SearchConcepts(c.Request().Context(), c.QueryParam("q"))
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, concepts)
}
