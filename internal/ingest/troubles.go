package ingest

import (
	"fmt"

	"github.com/crate-audio/crate/internal/downloader"
	"github.com/mitchellh/mapstructure"
)

type (
	TroubleType int
	Trouble     struct {
		error
		tType TroubleType
	}

	ResolutionType int

	RetryResolution      struct{}
	AbortResolution      struct{}
	PlatformIDResolution struct{ platformID string }

	platformIDResolutionContext struct {
		PlatformID string `mapstructure:"platform_id"`
	}
)

const (
	// ContentFailure means the source content is gone or locked; a
	// retry will never succeed.
	ContentFailure TroubleType = iota
	DownloadFailure
	ExtractionFailure
	StorageFailure
	DatabaseFailure
	GenericFailure

	Retry ResolutionType = iota
	SpecifyPlatformID
	Abort
)

var allowedResolutionTypes = map[TroubleType][]ResolutionType{
	ContentFailure:    {Abort},
	DownloadFailure:   {Abort, Retry, SpecifyPlatformID},
	ExtractionFailure: {Abort, Retry},
	StorageFailure:    {Abort, Retry},
	DatabaseFailure:   {Abort, Retry},
	GenericFailure:    {Abort, Retry},
}

// NewTrouble wraps an error as a trouble of an explicit type. Pipeline
// stages which already know the failure class use this directly;
// download errors go through newTrouble for classification.
func NewTrouble(err error, tType TroubleType) Trouble {
	return Trouble{error: err, tType: tType}
}

func newTrouble(err error) Trouble {
	if downloader.IsContentError(err) {
		return Trouble{error: err, tType: ContentFailure}
	}

	switch err.(type) {
	case *downloader.AllStrategiesFailedError, *downloader.StrategyError:
		return Trouble{error: err, tType: DownloadFailure}
	}

	return Trouble{error: err, tType: GenericFailure}
}

func (t *Trouble) Type() TroubleType { return t.tType }

func (t *Trouble) AllowedResolutionTypes() []ResolutionType {
	if allowed, ok := allowedResolutionTypes[t.tType]; ok {
		return allowed
	}

	return []ResolutionType{}
}

func (t *Trouble) isResolutionTypeAllowed(resType ResolutionType) bool {
	for _, v := range t.AllowedResolutionTypes() {
		if v == resType {
			return true
		}
	}

	return false
}

func (t *Trouble) GenerateResolution(resolutionMethod ResolutionType, context map[string]string) (interface{}, error) {
	if !t.isResolutionTypeAllowed(resolutionMethod) {
		return nil, ErrResolutionIncompatible
	}

	switch resolutionMethod {
	case Abort:
		return &AbortResolution{}, nil
	case Retry:
		return &RetryResolution{}, nil
	case SpecifyPlatformID:
		var decoded platformIDResolutionContext
		if err := mapstructure.Decode(context, &decoded); err != nil || decoded.PlatformID == "" {
			return nil, ErrResolutionIncomplete
		}

		return &PlatformIDResolution{platformID: decoded.PlatformID}, nil
	default:
		return nil, ErrResolutionIncompatible
	}
}

func (t TroubleType) String() string {
	switch t {
	case ContentFailure:
		return fmt.Sprintf("CONTENT_FAILURE[%d]", t)
	case DownloadFailure:
		return fmt.Sprintf("DOWNLOAD_FAILURE[%d]", t)
	case ExtractionFailure:
		return fmt.Sprintf("EXTRACTION_FAILURE[%d]", t)
	case StorageFailure:
		return fmt.Sprintf("STORAGE_FAILURE[%d]", t)
	case DatabaseFailure:
		return fmt.Sprintf("DATABASE_FAILURE[%d]", t)
	default:
		return fmt.Sprintf("GENERIC_FAILURE[%d]", t)
	}
}
