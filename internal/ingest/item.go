package ingest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/crate-audio/crate/internal/creator"
	"github.com/crate-audio/crate/internal/downloader"
	"github.com/crate-audio/crate/internal/event"
	"github.com/crate-audio/crate/internal/sample"
	"github.com/crate-audio/crate/internal/stems"
	"github.com/crate-audio/crate/pkg/logger"
	"github.com/google/uuid"
)

type (
	TroubleResolution struct {
		method  ResolutionType
		context map[string]any
	}

	IngestItemState int
	IngestItem      struct {
		ID           uuid.UUID
		SourceURL    string
		CollectionID *uuid.UUID
		State        IngestItemState
		Trouble      *Trouble

		// OverridePlatformID carries a user-supplied video ID from a
		// trouble resolution; it replaces whatever ID the download
		// strategy reports on the next attempt.
		OverridePlatformID *string

		// SampleID is set once ingestion has saved the sample row.
		SampleID *uuid.UUID
	}
)

const (
	Idle IngestItemState = iota
	Ingesting
	Troubled
	Complete
)

var (
	ErrNoTrouble                     = errors.New("ingestion has no trouble")
	ErrIngestNotFound                = errors.New("no ingest task could be found")
	ErrResolutionIncompatible        = errors.New("provided resolution method is not valid for ingestion trouble")
	ErrResolutionIncomplete          = errors.New("provided resolution context is missing information required to resolve the trouble")
	ErrResolutionContextIncompatible = errors.New("trouble resolution failed, consult logs for further information")
)

// ingest is the main task for an ingestion, which:
// - Downloads the source video to the local file system
// - Extracts the audio track and renders its waveform
// - Uploads the artefacts to object storage
// - Links (or fetches) the creator profile
// - Enriches with a transcript and separated stems (best effort)
// - Saves the sample to the database
// Any of the above can encounter an error - if the error can be cast
// to the Trouble type then it should be raised as a TROUBLE on the item.
func (item *IngestItem) ingest(
	ctx context.Context,
	eventBus event.EventCoordinator,
	downloads videoDownloader,
	formats audioFormatter,
	store artefactStore,
	creators creatorProvider,
	enrichment enrichmentProvider,
	data DataStore,
	keepLocalFiles bool,
) error {
	log.Emit(logger.NEW, "Beginning ingestion of item %s\n", item)
	descriptor, err := downloads.Download(ctx, item.SourceURL)
	if err != nil {
		return newTrouble(err)
	}

	if item.OverridePlatformID != nil {
		log.Emit(logger.INFO, "Retrying ingestion item %s with provided platform ID override (from trouble resolution) of %s\n", item, *item.OverridePlatformID)
		descriptor.ID = *item.OverridePlatformID
		item.OverridePlatformID = nil
	}

	if !keepLocalFiles {
		defer os.Remove(descriptor.FilePath)
	}

	log.Emit(logger.DEBUG, "Extracting audio from %s\n", descriptor.FilePath)
	audioPath, err := formats.Extract(ctx, descriptor.FilePath, descriptor.ID)
	if err != nil {
		return Trouble{error: err, tType: ExtractionFailure}
	}
	if !keepLocalFiles {
		defer os.Remove(audioPath)
	}

	audioURL, err := store.Upload(ctx, audioPath, "audio/"+filepath.Base(audioPath))
	if err != nil {
		return Trouble{error: err, tType: StorageFailure}
	}

	// Waveform rendering is cosmetic; failures degrade the sample
	// rather than fail the ingestion.
	waveformURL := ""
	if waveformPath, err := formats.RenderWaveform(ctx, audioPath, descriptor.ID); err != nil {
		log.Emit(logger.WARNING, "Waveform render for item %s failed: %v\n", item, err)
	} else {
		if !keepLocalFiles {
			defer os.Remove(waveformPath)
		}

		if url, err := store.Upload(ctx, waveformPath, "waveforms/"+filepath.Base(waveformPath)); err != nil {
			log.Emit(logger.WARNING, "Waveform upload for item %s failed: %v\n", item, err)
		} else {
			waveformURL = url
		}
	}

	linkedCreator := item.resolveCreator(ctx, creators, descriptor)
	transcript, stemResults := item.enrich(ctx, enrichment, audioPath, audioURL)

	newSample := &sample.Sample{
		SourceURL:       item.SourceURL,
		Platform:        string(descriptor.Platform),
		PlatformID:      descriptor.ID,
		CollectionID:    item.CollectionID,
		Status:          sample.Ready,
		Title:           descriptor.Title,
		DurationSeconds: descriptor.DurationSeconds,
		AudioURL:        audioURL,
		WaveformURL:     waveformURL,
		Transcript:      transcript,
	}
	if linkedCreator != nil {
		newSample.CreatorID = &linkedCreator.ID
	}
	if stemResults != nil {
		sampleStems := make([]sample.Stem, len(stemResults))
		for i, stem := range stemResults {
			sampleStems[i] = sample.Stem{Name: stem.Name, URL: stem.URL}
		}
		newSample.Stems.Set(sampleStems)
	}

	if err := data.SaveSample(newSample); err != nil {
		return Trouble{error: err, tType: DatabaseFailure}
	}

	item.SampleID = &newSample.ID
	log.Emit(logger.SUCCESS, "Saved newly ingested sample %v\n", newSample.ID)
	eventBus.Dispatch(event.NewSampleEvent, newSample.ID)

	return nil
}

// resolveCreator finds the cached or freshly-fetched creator profile
// for the descriptor. A missing creator is tolerated: the sample is
// saved unlinked and a later re-ingest can attach it.
func (item *IngestItem) resolveCreator(ctx context.Context, creators creatorProvider, descriptor *downloader.MediaDescriptor) *creator.Creator {
	var linked *creator.Creator
	var err error
	if descriptor.CreatorUsername != "" {
		linked, err = creators.GetOrFetchCreator(ctx, descriptor.CreatorUsername)
	} else if descriptor.CreatorID != "" {
		linked, err = creators.GetOrFetchCreatorByPlatformID(ctx, descriptor.CreatorID)
	} else {
		err = creator.ErrCreatorUnavailable
	}

	if err != nil {
		log.Emit(logger.WARNING, "Creator for item %s could not be resolved (%v), sample will be saved unlinked\n", item, err)
		return nil
	}

	return linked
}

// enrich runs the best-effort enrichment steps. Either can fail
// without failing the ingestion.
func (item *IngestItem) enrich(ctx context.Context, enrichment enrichmentProvider, audioPath string, audioURL string) (string, []stems.StemResult) {
	transcript := ""
	if enrichment.TranscriptionEnabled() {
		if text, err := enrichment.Transcribe(ctx, audioPath); err != nil {
			log.Emit(logger.WARNING, "Transcription for item %s failed: %v\n", item, err)
		} else {
			transcript = text
		}
	}

	var stemResults []stems.StemResult
	if enrichment.SeparationEnabled() {
		if results, err := enrichment.Separate(ctx, audioURL); err != nil {
			log.Emit(logger.WARNING, "Stem separation for item %s failed: %v\n", item, err)
		} else {
			stemResults = results
		}
	}

	return transcript, stemResults
}

func (item *IngestItem) String() string {
	return fmt.Sprintf("IngestItem{ID=%s state=%s}", item.ID, item.State)
}

func (s IngestItemState) String() string {
	switch s {
	case Idle:
		return fmt.Sprintf("IDLE[%d]", s)
	case Ingesting:
		return fmt.Sprintf("INGESTING[%d]", s)
	case Troubled:
		return fmt.Sprintf("TROUBLED[%d]", s)
	case Complete:
		return fmt.Sprintf("COMPLETE[%d]", s)
	default:
		return fmt.Sprintf("UNKNOWN[%d]", s)
	}
}
