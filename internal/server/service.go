package server

import (
	"fmt"
	"log/slog"
	"net/http"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"

	"github.com/ThiagoRGoveia/ev-turnout/internal/aggregation"
	"github.com/ThiagoRGoveia/ev-turnout/internal/config"
	"github.com/ThiagoRGoveia/ev-turnout/internal/database"
	"github.com/ThiagoRGoveia/ev-turnout/internal/export"
	"github.com/ThiagoRGoveia/ev-turnout/internal/models"
)

// districtDimensions maps /districts/... paths to stored dimensions.
var districtDimensions = map[string]string{
	"counties":     "county",
	"federal":      "cd",
	"state/house":  "hd",
	"state/senate": "sd",
}

// TurnoutService serves stored turnout records and the crosstabs built from them.
type TurnoutService struct {
	DBManager database.DBManager
	election  config.Election
	validate  *validator.Validate
	logger    *slog.Logger
}

func NewTurnoutService(dbManager database.DBManager, election config.Election, logger *slog.Logger) *TurnoutService {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		return strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
	})
	return &TurnoutService{
		DBManager: dbManager,
		election:  election,
		validate:  v,
		logger:    logger.With("component", "api"),
	}
}

type pageQuery struct {
	Limit  int `json:"limit" validate:"gte=0,lte=50000"`
	Offset int `json:"offset" validate:"gte=0"`
}

type crosstabQuery struct {
	Chamber  string `json:"chamber" validate:"omitempty,oneof=hd sd cd"`
	District string `json:"district" validate:"omitempty,numeric"`
}

type recordsResponse struct {
	Year    int                  `json:"year"`
	Days    []int                `json:"days"`
	Count   int                  `json:"count"`
	Records []models.VoterRecord `json:"records"`
}

func (h *TurnoutService) Health(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, map[string]string{"status": "ok"})
}

// Districts lists the distinct values of one district kind.
func (h *TurnoutService) Districts(kind string) http.HandlerFunc {
	dimension := districtDimensions[kind]
	return func(w http.ResponseWriter, r *http.Request) {
		values, err := h.DBManager.DistinctValues(r.Context(), dimension)
		if err != nil {
			h.fail(w, r, err, storeFailure())
			return
		}
		if values == nil {
			values = []string{}
		}
		render.JSON(w, r, values)
	}
}

// EarlyVote returns the records of {year} on the early-voting days the current year has
// reached, narrowed by the party and district URL parameters that are present.
func (h *TurnoutService) EarlyVote(w http.ResponseWriter, r *http.Request) {
	year, err := strconv.Atoi(chi.URLParam(r, "year"))
	if err != nil || year < 1900 {
		render.Render(w, r, invalidParameter(fmt.Sprintf("invalid year %q", chi.URLParam(r, "year"))))
		return
	}

	page, apiErr := h.parsePage(r)
	if apiErr != nil {
		render.Render(w, r, apiErr)
		return
	}
	filter := models.RecordFilter{
		Year:   year,
		County: chi.URLParam(r, "county"),
		CD:     chi.URLParam(r, "cd"),
		HD:     chi.URLParam(r, "hd"),
		SD:     chi.URLParam(r, "sd"),
		Limit:  page.Limit,
		Offset: page.Offset,
	}
	for _, d := range []*string{&filter.CD, &filter.HD, &filter.SD} {
		if *d == "" {
			continue
		}
		if _, err := strconv.Atoi(*d); err != nil {
			render.Render(w, r, invalidParameter(fmt.Sprintf("district must be a number, got %q", *d)))
			return
		}
		*d = models.CanonicalDistrict(*d)
	}
	if p := chi.URLParam(r, "party"); p != "" {
		if filter.Party, err = models.ParseParty(p); err != nil {
			render.Render(w, r, invalidParameter(err.Error()))
			return
		}
	}

	days, err := h.DBManager.CurrentDays(r.Context(), h.election.CurrentYear)
	if err != nil {
		h.fail(w, r, err, storeFailure())
		return
	}
	filter.DaysIn = days

	records, err := h.DBManager.QueryRecords(r.Context(), filter)
	if err != nil {
		h.fail(w, r, err, storeFailure())
		return
	}
	if records == nil {
		records = []models.VoterRecord{}
	}
	if days == nil {
		days = []int{}
	}
	render.JSON(w, r, recordsResponse{Year: year, Days: days, Count: len(records), Records: records})
}

// Crosstabs returns the named crosstab set of one party's primaries as JSON.
func (h *TurnoutService) Crosstabs(w http.ResponseWriter, r *http.Request) {
	set, apiErr := h.buildSet(r)
	if apiErr != nil {
		render.Render(w, r, apiErr)
		return
	}
	render.JSON(w, r, set)
}

// ExportCrosstabs returns the same set as Crosstabs as an XLSX workbook.
func (h *TurnoutService) ExportCrosstabs(w http.ResponseWriter, r *http.Request) {
	set, apiErr := h.buildSet(r)
	if apiErr != nil {
		render.Render(w, r, apiErr)
		return
	}
	w.Header().Set("Content-Type", export.ContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="crosstabs_%s.xlsx"`, chi.URLParam(r, "party")))
	if err := export.Write(w, set); err != nil {
		h.logger.Error("failed to write workbook", "error", err, "request_id", middleware.GetReqID(r.Context()))
	}
}

func (h *TurnoutService) buildSet(r *http.Request) (*aggregation.Set, *APIError) {
	party, err := models.ParseParty(chi.URLParam(r, "party"))
	if err != nil {
		return nil, invalidParameter(err.Error())
	}

	q := crosstabQuery{
		Chamber:  strings.ToLower(r.URL.Query().Get("chamber")),
		District: r.URL.Query().Get("district"),
	}
	if apiErr := h.validateQuery(q); apiErr != nil {
		return nil, apiErr
	}
	if (q.Chamber == "") != (q.District == "") {
		return nil, invalidParameter("chamber and district must be given together")
	}

	records, err := h.DBManager.QueryRecords(r.Context(), models.RecordFilter{Party: party})
	if err != nil {
		h.logger.Error("failed to query records", "error", err, "request_id", middleware.GetReqID(r.Context()))
		return nil, storeFailure()
	}

	filter := aggregation.Filter{Party: party, District: q.District}
	if q.Chamber != "" {
		filter.Chamber, _ = aggregation.ParseChamber(q.Chamber)
	}
	return aggregation.Build(filter.Apply(records), h.election.CurrentYear), nil
}

func (h *TurnoutService) parsePage(r *http.Request) (pageQuery, *APIError) {
	var page pageQuery
	for name, dst := range map[string]*int{"limit": &page.Limit, "offset": &page.Offset} {
		raw := r.URL.Query().Get(name)
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil {
			return page, invalidParameter(fmt.Sprintf("%s must be an integer, got %q", name, raw))
		}
		*dst = n
	}
	return page, h.validateQuery(page)
}

func (h *TurnoutService) validateQuery(v any) *APIError {
	err := h.validate.Struct(v)
	if err == nil {
		return nil
	}
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return invalidParameter(err.Error())
	}
	details := make([]ValidationError, 0, len(verrs))
	for _, fe := range verrs {
		msg := "failed " + fe.Tag()
		if fe.Param() != "" {
			msg += "=" + fe.Param()
		}
		details = append(details, ValidationError{Field: fe.Field(), Message: msg})
	}
	return NewAPIError(http.StatusBadRequest, "VALIDATION_FAILED", "Request validation failed", details)
}

func (h *TurnoutService) fail(w http.ResponseWriter, r *http.Request, err error, apiErr *APIError) {
	h.logger.Error(apiErr.Message, "error", err, "path", r.URL.Path, "request_id", middleware.GetReqID(r.Context()))
	render.Render(w, r, apiErr)
}
