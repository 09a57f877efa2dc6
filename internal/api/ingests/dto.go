package ingests

import (
	"fmt"

	"github.com/crate-audio/crate/internal/ingest"
	"github.com/google/uuid"
)

type (
	IngestStateDto    string
	TroubleTypeDto    string
	ResolutionTypeDto string

	TroubleDto struct {
		Type                   TroubleTypeDto      `json:"type"`
		Message                string              `json:"message"`
		AllowedResolutionTypes []ResolutionTypeDto `json:"allowed_resolution_types"`
	}

	// IngestDto is the response shape used by endpoints which return
	// in-flight ingestions (e.g., list, get).
	IngestDto struct {
		ID           uuid.UUID      `json:"id"`
		SourceURL    string         `json:"source_url"`
		CollectionID *uuid.UUID     `json:"collection_id"`
		State        IngestStateDto `json:"state"`
		Trouble      *TroubleDto    `json:"trouble"`
		SampleID     *uuid.UUID     `json:"sample_id"`
	}
)

const (
	IDLE      IngestStateDto = "IDLE"
	INGESTING IngestStateDto = "INGESTING"
	TROUBLED  IngestStateDto = "TROUBLED"
	COMPLETE  IngestStateDto = "COMPLETE"

	CONTENT_FAILURE    TroubleTypeDto = "CONTENT_FAILURE"
	DOWNLOAD_FAILURE   TroubleTypeDto = "DOWNLOAD_FAILURE"
	EXTRACTION_FAILURE TroubleTypeDto = "EXTRACTION_FAILURE"
	STORAGE_FAILURE    TroubleTypeDto = "STORAGE_FAILURE"
	DATABASE_FAILURE   TroubleTypeDto = "DATABASE_FAILURE"
	UNKNOWN_FAILURE    TroubleTypeDto = "UNKNOWN_FAILURE"

	RETRY               ResolutionTypeDto = "RETRY"
	ABORT               ResolutionTypeDto = "ABORT"
	SPECIFY_PLATFORM_ID ResolutionTypeDto = "SPECIFY_PLATFORM_ID"
)

func NewDto(item *ingest.IngestItem) *IngestDto {
	return &IngestDto{
		ID:           item.ID,
		SourceURL:    item.SourceURL,
		CollectionID: item.CollectionID,
		State:        stateToDto(item.State),
		Trouble:      troubleToDto(item.Trouble),
		SampleID:     item.SampleID,
	}
}

func stateToDto(state ingest.IngestItemState) IngestStateDto {
	switch state {
	case ingest.Idle:
		return IDLE
	case ingest.Ingesting:
		return INGESTING
	case ingest.Troubled:
		return TROUBLED
	case ingest.Complete:
		return COMPLETE
	default:
		return IngestStateDto(fmt.Sprintf("UNKNOWN[%d]", state))
	}
}

func troubleToDto(trouble *ingest.Trouble) *TroubleDto {
	if trouble == nil {
		return nil
	}

	allowed := trouble.AllowedResolutionTypes()
	allowedDtos := make([]ResolutionTypeDto, len(allowed))
	for k, v := range allowed {
		allowedDtos[k] = resolutionTypeToDto(v)
	}

	return &TroubleDto{
		Type:                   troubleTypeToDto(trouble.Type()),
		Message:                trouble.Error(),
		AllowedResolutionTypes: allowedDtos,
	}
}

func troubleTypeToDto(tType ingest.TroubleType) TroubleTypeDto {
	switch tType {
	case ingest.ContentFailure:
		return CONTENT_FAILURE
	case ingest.DownloadFailure:
		return DOWNLOAD_FAILURE
	case ingest.ExtractionFailure:
		return EXTRACTION_FAILURE
	case ingest.StorageFailure:
		return STORAGE_FAILURE
	case ingest.DatabaseFailure:
		return DATABASE_FAILURE
	default:
		return UNKNOWN_FAILURE
	}
}

func resolutionTypeToDto(resType ingest.ResolutionType) ResolutionTypeDto {
	switch resType {
	case ingest.Retry:
		return RETRY
	case ingest.SpecifyPlatformID:
		return SPECIFY_PLATFORM_ID
	default:
		return ABORT
	}
}

func parseResolutionType(raw string) (ingest.ResolutionType, error) {
	switch ResolutionTypeDto(raw) {
	case RETRY:
		return ingest.Retry, nil
	case ABORT:
		return ingest.Abort, nil
	case SPECIFY_PLATFORM_ID:
		return ingest.SpecifyPlatformID, nil
	default:
		return 0, fmt.Errorf("resolution method '%s' is not recognized", raw)
	}
}
