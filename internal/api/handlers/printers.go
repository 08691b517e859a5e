package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/orrn/thermal-spool/internal/core"
)

type AddPrinterRequest struct {
	Host string `json:"host" binding:"required"`
	Port int    `json:"port" binding:"omitempty,min=1,max=65535"`
	Name string `json:"name"`
}

type ReachabilityRequest struct {
	Printers []string `json:"printers" binding:"required,min=1"`
}

type PrinterResponse struct {
	Host        string     `json:"printer_ip"`
	Port        int        `json:"printer_port"`
	Name        string     `json:"printer_name"`
	Reachable   bool       `json:"reachable"`
	Unreachable bool       `json:"unreachable_notified"`
	LastSeenAt  *time.Time `json:"last_seen_at,omitempty"`
	AddedAt     time.Time  `json:"added_at"`
}

type PrinterStatusResponse struct {
	Host      string    `json:"printer_ip"`
	Port      int       `json:"printer_port"`
	Name      string    `json:"printer_name"`
	Reachable bool      `json:"reachable"`
	CheckedAt time.Time `json:"checked_at"`
}

type PrinterHandler struct {
	printerManager *core.PrinterManager
}

func NewPrinterHandler(printerManager *core.PrinterManager) *PrinterHandler {
	return &PrinterHandler{printerManager: printerManager}
}

func (h *PrinterHandler) ListPrinters(c *gin.Context) {
	printers := h.printerManager.ListPrinters()

	responses := make([]PrinterResponse, 0, len(printers))
	for _, p := range printers {
		responses = append(responses, h.printerToResponse(p))
	}

	c.JSON(http.StatusOK, responses)
}

func (h *PrinterHandler) AddPrinter(c *gin.Context) {
	var req AddPrinterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "validation_error",
			Message: err.Error(),
		})
		return
	}

	endpoint := core.NewEndpoint(req.Host, req.Port)
	printer, err := h.printerManager.AddPrinter(c.Request.Context(), endpoint, req.Name)
	if err != nil {
		if errors.Is(err, core.ErrPrinterAlreadyExists) {
			c.JSON(http.StatusConflict, ErrorResponse{
				Error:   "duplicate_printer",
				Message: "Printer already exists in pool",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "add_failed",
			Message: err.Error(),
		})
		return
	}

	c.JSON(http.StatusCreated, h.printerToResponse(printer))
}

func (h *PrinterHandler) RemovePrinter(c *gin.Context) {
	endpoint, ok := h.endpointFromPath(c)
	if !ok {
		return
	}

	if err := h.printerManager.RemovePrinter(endpoint); err != nil {
		if errors.Is(err, core.ErrPrinterNotFound) {
			c.JSON(http.StatusNotFound, ErrorResponse{
				Error:   "not_found",
				Message: "Printer not found",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "remove_failed",
			Message: err.Error(),
		})
		return
	}

	c.Status(http.StatusNoContent)
}

// CheckReachability probes each listed printer in request order.
func (h *PrinterHandler) CheckReachability(c *gin.Context) {
	var req ReachabilityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "validation_error",
			Message: err.Error(),
		})
		return
	}

	endpoints := make([]core.PrinterEndpoint, 0, len(req.Printers))
	for _, s := range req.Printers {
		ep, err := core.ParseEndpoint(s)
		if err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{
				Error:   "invalid_endpoint",
				Message: err.Error(),
			})
			return
		}
		endpoints = append(endpoints, ep)
	}

	statuses := h.printerManager.CheckReachability(c.Request.Context(), endpoints)
	responses := make([]PrinterStatusResponse, 0, len(statuses))
	for _, s := range statuses {
		responses = append(responses, PrinterStatusResponse{
			Host:      s.Endpoint.Host,
			Port:      s.Endpoint.Port,
			Name:      s.Name,
			Reachable: s.Reachable,
			CheckedAt: s.CheckedAt,
		})
	}
	c.JSON(http.StatusOK, responses)
}

func (h *PrinterHandler) ResetUnreachable(c *gin.Context) {
	endpoint, ok := h.endpointFromPath(c)
	if !ok {
		return
	}

	h.printerManager.ResetUnreachable(endpoint)
	c.JSON(http.StatusOK, gin.H{"printer": endpoint.String(), "unreachable_notified": false})
}

func (h *PrinterHandler) endpointFromPath(c *gin.Context) (core.PrinterEndpoint, bool) {
	port := 0
	if v := c.Query("port"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 65535 {
			c.JSON(http.StatusBadRequest, ErrorResponse{
				Error:   "invalid_port",
				Message: "Invalid printer port",
			})
			return core.PrinterEndpoint{}, false
		}
		port = n
	}
	return core.NewEndpoint(c.Param("host"), port), true
}

func (h *PrinterHandler) printerToResponse(p *core.Printer) PrinterResponse {
	return PrinterResponse{
		Host:        p.Endpoint.Host,
		Port:        p.Endpoint.Port,
		Name:        p.Name,
		Reachable:   p.Reachable,
		Unreachable: h.printerManager.IsFlaggedUnreachable(p.Endpoint),
		LastSeenAt:  p.LastSeenAt,
		AddedAt:     p.AddedAt,
	}
}

func (h *PrinterHandler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/printers", h.ListPrinters)
	r.POST("/printers", h.AddPrinter)
	r.POST("/printers/reachability", h.CheckReachability)
	r.DELETE("/printers/:host", h.RemovePrinter)
	r.POST("/printers/:host/reset", h.ResetUnreachable)
}
