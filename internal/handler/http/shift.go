package http

import (
	"net/http"

	"github.com/cmlabs-hris/fieldshift/internal/domain/shift"
	"github.com/cmlabs-hris/fieldshift/internal/handler/http/response"
	"github.com/go-chi/chi/v5"
)

type ShiftHandler interface {
	Schedule(w http.ResponseWriter, r *http.Request)
	Get(w http.ResponseWriter, r *http.Request)
	Start(w http.ResponseWriter, r *http.Request)
	StartBreak(w http.ResponseWriter, r *http.Request)
	EndBreak(w http.ResponseWriter, r *http.Request)
	End(w http.ResponseWriter, r *http.Request)
	Complete(w http.ResponseWriter, r *http.Request)
	Recover(w http.ResponseWriter, r *http.Request)
}

type shiftHandlerImpl struct {
	shiftService shift.ShiftService
}

func NewShiftHandler(shiftService shift.ShiftService) ShiftHandler {
	return &shiftHandlerImpl{
		shiftService: shiftService,
	}
}

// Schedule implements ShiftHandler.
func (h *shiftHandlerImpl) Schedule(w http.ResponseWriter, r *http.Request) {
	var req shift.ScheduleShiftRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	sh, err := h.shiftService.ScheduleShift(r.Context(), req)
	if err != nil {
		response.HandleError(w, err)
		return
	}
	response.Created(w, "Shift scheduled", shift.ToResponse(sh))
}

// Get implements ShiftHandler.
func (h *shiftHandlerImpl) Get(w http.ResponseWriter, r *http.Request) {
	sh, err := h.shiftService.GetShift(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		response.HandleError(w, err)
		return
	}
	response.Success(w, shift.ToResponse(sh))
}

// Start implements ShiftHandler.
func (h *shiftHandlerImpl) Start(w http.ResponseWriter, r *http.Request) {
	var req shift.StartShiftRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	req.ShiftID = chi.URLParam(r, "id")

	sh, err := h.shiftService.StartShift(r.Context(), req)
	if err != nil {
		response.HandleError(w, err)
		return
	}
	response.SuccessWithMessage(w, "Shift started", shift.ToResponse(sh))
}

// StartBreak implements ShiftHandler.
func (h *shiftHandlerImpl) StartBreak(w http.ResponseWriter, r *http.Request) {
	var req shift.StartBreakRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	req.ShiftID = chi.URLParam(r, "id")

	sh, err := h.shiftService.StartBreak(r.Context(), req)
	if err != nil {
		response.HandleError(w, err)
		return
	}
	response.SuccessWithMessage(w, "Break started", shift.ToResponse(sh))
}

// EndBreak implements ShiftHandler.
func (h *shiftHandlerImpl) EndBreak(w http.ResponseWriter, r *http.Request) {
	sh, err := h.shiftService.EndBreak(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		response.HandleError(w, err)
		return
	}
	response.SuccessWithMessage(w, "Break ended", shift.ToResponse(sh))
}

// End implements ShiftHandler.
func (h *shiftHandlerImpl) End(w http.ResponseWriter, r *http.Request) {
	var req shift.EndShiftRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	req.ShiftID = chi.URLParam(r, "id")

	sh, err := h.shiftService.EndShift(r.Context(), req)
	if err != nil {
		response.HandleError(w, err)
		return
	}
	response.SuccessWithMessage(w, "Shift ended", shift.ToResponse(sh))
}

// Complete implements ShiftHandler.
func (h *shiftHandlerImpl) Complete(w http.ResponseWriter, r *http.Request) {
	var req shift.CompleteShiftRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	req.ShiftID = chi.URLParam(r, "id")

	sh, err := h.shiftService.CompleteShift(r.Context(), req)
	if err != nil {
		response.HandleError(w, err)
		return
	}
	response.SuccessWithMessage(w, "Shift completed", shift.ToResponse(sh))
}

// Recover implements ShiftHandler.
func (h *shiftHandlerImpl) Recover(w http.ResponseWriter, r *http.Request) {
	sh, err := h.shiftService.RecoverShiftState(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		response.HandleError(w, err)
		return
	}
	response.Success(w, shift.ToResponse(sh))
}
