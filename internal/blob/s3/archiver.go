package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/betsats/betsats/internal/domain"
)

// Narrow store interfaces required by the archiver. The Postgres and memory
// stores satisfy these implicitly.

// CompetitionArchiveStore provides read access to competitions for archival.
type CompetitionArchiveStore interface {
	List(ctx context.Context) ([]domain.Competition, error)
}

// TicketArchiveStore provides read access to a competition's ticket
// population for archival.
type TicketArchiveStore interface {
	ListByCompetition(ctx context.Context, competitionID string) ([]domain.Ticket, error)
	CountUnresolved(ctx context.Context, competitionID string) (int64, error)
}

// Archiver uploads finished competitions to cold storage as JSONL. A
// competition qualifies once it is SETTLED and every ticket has reached a
// terminal state, i.e. nothing can change its records anymore.
//
// Deletion of archived competitions from the primary store is intentionally
// NOT performed here; that is a separate, explicit operator step executed
// after the archive has been verified.
type Archiver struct {
	writer  domain.BlobWriter
	comps   CompetitionArchiveStore
	tickets TicketArchiveStore
	audit   domain.AuditStore
	logger  *slog.Logger
}

// multipartThreshold is the archive size above which the upload switches to
// the multipart path when the writer supports it.
const multipartThreshold = 8 * 1024 * 1024

// multipartWriter is the optional upgrade interface for writers that can
// stream large payloads in parts. *Writer implements it.
type multipartWriter interface {
	PutMultipart(ctx context.Context, path string, data io.Reader, partSize int64) error
}

// NewArchiver creates an Archiver.
func NewArchiver(writer domain.BlobWriter, comps CompetitionArchiveStore, tickets TicketArchiveStore, audit domain.AuditStore, logger *slog.Logger) *Archiver {
	return &Archiver{
		writer:  writer,
		comps:   comps,
		tickets: tickets,
		audit:   audit,
		logger:  logger.With(slog.String("component", "archiver")),
	}
}

// archiveLine is one JSONL record: the competition header followed by one
// line per ticket.
type archiveLine struct {
	Kind        string              `json:"kind"`
	Competition *domain.Competition `json:"competition,omitempty"`
	Ticket      *domain.Ticket      `json:"ticket,omitempty"`
	ArchivedAt  time.Time           `json:"archived_at,omitempty"`
}

// ArchiveSettled uploads every settled, payment-complete competition together
// with its full ticket population and returns the number of competitions
// archived. Re-uploading an already archived competition overwrites the same
// key with identical content, so re-runs are harmless.
func (a *Archiver) ArchiveSettled(ctx context.Context) (int64, error) {
	comps, err := a.comps.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive query: %w", err)
	}

	var archived int64
	for _, comp := range comps {
		if comp.State != domain.CompetitionStateSettled {
			continue
		}
		unresolved, err := a.tickets.CountUnresolved(ctx, comp.ID)
		if err != nil {
			return archived, fmt.Errorf("s3blob: archive %s unresolved: %w", comp.ID, err)
		}
		if unresolved > 0 {
			continue
		}

		if err := a.archiveOne(ctx, comp); err != nil {
			return archived, err
		}
		archived++
	}
	return archived, nil
}

func (a *Archiver) archiveOne(ctx context.Context, comp domain.Competition) error {
	tickets, err := a.tickets.ListByCompetition(ctx, comp.ID)
	if err != nil {
		return fmt.Errorf("s3blob: archive %s tickets: %w", comp.ID, err)
	}

	lines := make([]archiveLine, 0, len(tickets)+1)
	lines = append(lines, archiveLine{
		Kind:        "competition",
		Competition: &comp,
		ArchivedAt:  time.Now().UTC(),
	})
	for i := range tickets {
		lines = append(lines, archiveLine{Kind: "ticket", Ticket: &tickets[i]})
	}

	buf, err := marshalJSONL(lines)
	if err != nil {
		return fmt.Errorf("s3blob: archive %s marshal: %w", comp.ID, err)
	}

	path := archivePath(comp)
	if mw, ok := a.writer.(multipartWriter); ok && len(buf) > multipartThreshold {
		err = mw.PutMultipart(ctx, path, bytes.NewReader(buf), minPartSize)
	} else {
		err = a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson")
	}
	if err != nil {
		return fmt.Errorf("s3blob: archive %s upload: %w", comp.ID, err)
	}

	a.logger.Info("competition archived",
		slog.String("competition_id", comp.ID),
		slog.String("path", path),
		slog.Int("tickets", len(tickets)))

	if a.audit != nil {
		if err := a.audit.Log(ctx, "competition_archived", map[string]any{
			"competition_id": comp.ID,
			"path":           path,
			"tickets":        len(tickets),
		}); err != nil {
			return fmt.Errorf("s3blob: archive %s audit log: %w", comp.ID, err)
		}
	}
	return nil
}

// archivePath builds the S3 key for a competition archive, partitioned by the
// year-month the competition was created.
//
//	archive/competitions/2025-01/<id>.jsonl
func archivePath(comp domain.Competition) string {
	return fmt.Sprintf("archive/competitions/%s/%s.jsonl",
		comp.CreatedAt.Format("2006-01"), comp.ID)
}

// marshalJSONL serialises a slice of values as newline-delimited JSON.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}
