package samples

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/crate-audio/crate/internal/sample"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

type (
	Store interface {
		GetSample(id uuid.UUID) (*sample.Sample, error)
		ListSamples(filter sample.ListFilter) ([]*sample.Sample, error)
		DeleteSample(id uuid.UUID) error
		RecordSamplePlay(id uuid.UUID) error
	}

	// IngestQueue accepts a single video URL for ingestion outside of
	// any collection.
	IngestQueue interface {
		QueueIngest(sourceURL string, collectionID *uuid.UUID) (uuid.UUID, error)
	}

	SubmitRequest struct {
		SourceURL string `json:"source_url" validate:"required,url"`
	}

	SubmitResponse struct {
		IngestID uuid.UUID `json:"ingest_id"`
	}

	Controller struct {
		store     Store
		ingests   IngestQueue
		validate  *validator.Validate
		adminOnly echo.MiddlewareFunc
	}
)

func New(validate *validator.Validate, ingests IngestQueue, store Store, adminOnly echo.MiddlewareFunc) *Controller {
	return &Controller{store, ingests, validate, adminOnly}
}

func (controller *Controller) SetRoutes(eg *echo.Group) {
	eg.GET("/", controller.list)
	eg.POST("/", controller.submit)
	eg.GET("/:id/", controller.get)
	eg.DELETE("/:id/", controller.delete, controller.adminOnly)
	eg.POST("/:id/play/", controller.recordPlay)
}

// list returns samples matching the filters in the query string. All
// filters are optional; results are newest first.
func (controller *Controller) list(ec echo.Context) error {
	filter, err := filterFromQuery(ec)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	results, err := controller.store.ListSamples(*filter)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err)
	}

	return ec.JSON(http.StatusOK, results)
}

// submit queues a single video URL for ingestion, outside of any
// collection. The ingest ID returned can be used to track progress.
func (controller *Controller) submit(ec echo.Context) error {
	var request SubmitRequest
	if err := ec.Bind(&request); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("JSON body invalid: %s", err))
	}
	if err := controller.validate.Struct(request); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("Request invalid: %s", err))
	}

	ingestID, err := controller.ingests.QueueIngest(request.SourceURL, nil)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("Failed to queue ingestion: %s", err))
	}

	return ec.JSON(http.StatusAccepted, SubmitResponse{IngestID: ingestID})
}

func (controller *Controller) get(ec echo.Context) error {
	id, err := uuid.Parse(ec.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Sample ID is not a valid UUID")
	}

	fetched, err := controller.store.GetSample(id)
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound)
	}

	return ec.JSON(http.StatusOK, fetched)
}

// delete soft-deletes the sample. Admin only.
func (controller *Controller) delete(ec echo.Context) error {
	id, err := uuid.Parse(ec.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Sample ID is not a valid UUID")
	}

	if err := controller.store.DeleteSample(id); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	return ec.NoContent(http.StatusOK)
}

func (controller *Controller) recordPlay(ec echo.Context) error {
	id, err := uuid.Parse(ec.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Sample ID is not a valid UUID")
	}

	if err := controller.store.RecordSamplePlay(id); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	return ec.NoContent(http.StatusOK)
}

func filterFromQuery(ec echo.Context) (*sample.ListFilter, error) {
	filter := sample.ListFilter{TitleSearch: ec.QueryParam("title")}

	if raw := ec.QueryParam("creator_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("creator_id is not a valid UUID")
		}
		filter.CreatorID = &id
	}

	if raw := ec.QueryParam("collection_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("collection_id is not a valid UUID")
		}
		filter.CollectionID = &id
	}

	if raw := ec.QueryParam("status"); raw != "" {
		status := sample.Status(raw)
		switch status {
		case sample.Processing, sample.Ready, sample.Failed:
			filter.Status = &status
		default:
			return nil, fmt.Errorf("status '%s' is not recognized", raw)
		}
	}

	if raw := ec.QueryParam("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			return nil, fmt.Errorf("limit must be a non-negative integer")
		}
		filter.Limit = limit
	}

	if raw := ec.QueryParam("offset"); raw != "" {
		offset, err := strconv.Atoi(raw)
		if err != nil || offset < 0 {
			return nil, fmt.Errorf("offset must be a non-negative integer")
		}
		filter.Offset = offset
	}

	return &filter, nil
}
