package staging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/JGooseK41/NFTServiceApp-sub002/pkg/httpx"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	maxUploadBytes    = 10 << 20 // per file part
	maxStageBodyBytes = 34 << 20 // three parts plus form fields

	// Notice ids carry the recipient index in two digits; the cap keeps
	// per-recipient ids unique within a transaction.
	maxRecipients = 100

	stageEndpoint = "POST /transaction"
)

// TransactionStore is the persistence contract the handlers program against.
type TransactionStore interface {
	Stage(ctx context.Context, rec *StagedRecord) error
	Get(ctx context.Context, transactionID string) (*StagedRecord, error)
	Execute(ctx context.Context, transactionID string, ev ExecutionEvidence) (*ExecutionResult, []string, error)
	ExpiredStaged(ctx context.Context) ([]CleanedTransaction, error)
	DeleteStaged(ctx context.Context, transactionID string) error
	GetIdempotencyRecord(ctx context.Context, sessionID, key, endpoint string) (*IdempotencyRecord, error)
	SaveIdempotencyRecord(ctx context.Context, rec IdempotencyRecord) error
	RecordAuditEvent(ctx context.Context, transactionID, eventType string, payload map[string]any) error
}

// FileStore abstracts the staging/permanent file namespaces.
type FileStore interface {
	SaveStaged(field, originalName string, src io.Reader) (string, error)
	Promote(name string) error
	RemoveStaged(name string) error
	StagedURL(name string) string
}

type Handler struct {
	store TransactionStore
	files FileStore
	cfg   Config
	now   func() time.Time
}

func NewHandler(store TransactionStore, files FileStore, cfg Config) *Handler {
	return &Handler{store: store, files: files, cfg: cfg, now: time.Now}
}

func (h *Handler) Routes(r chi.Router) {
	r.Post("/transaction", h.HandleStage)
	r.Get("/transaction/{transactionId}", h.HandleRetrieve)
	r.Post("/execute/{transactionId}", h.HandleExecute)
	r.Delete("/cleanup", h.HandleCleanup)
}

func (h *Handler) HandleStage(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxStageBodyBytes)
	if err := r.ParseMultipartForm(maxStageBodyBytes); err != nil {
		httpx.WriteError(w, 400, "invalid multipart request: "+err.Error())
		return
	}

	recipients, err := ParseRecipients(r.FormValue("recipients"))
	if err != nil {
		httpx.WriteError(w, 400, err.Error())
		return
	}
	if len(recipients) > maxRecipients {
		httpx.WriteError(w, 400, fmt.Sprintf("too many recipients (maximum %d)", maxRecipients))
		return
	}
	serverAddress := strings.TrimSpace(r.FormValue("serverAddress"))
	if serverAddress == "" {
		httpx.WriteError(w, 400, "serverAddress is required")
		return
	}
	sessionID := strings.TrimSpace(r.FormValue("sessionId"))
	if sessionID == "" {
		sessionID = "ses_" + uuid.NewString()
	}

	idemKey := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	if idemKey != "" {
		rec, err := h.store.GetIdempotencyRecord(r.Context(), sessionID, idemKey, stageEndpoint)
		if err != nil {
			httpx.WriteError(w, 500, err.Error())
			return
		}
		if rec != nil {
			w.Header().Set("content-type", "application/json")
			w.WriteHeader(rec.ResponseStatus)
			_, _ = w.Write(rec.ResponseBody)
			return
		}
	}

	creationOverride, err := optionalDecimal(r.FormValue("creationFee"))
	if err != nil {
		httpx.WriteError(w, 400, "creationFee is not a valid amount")
		return
	}
	sponsorshipOverride, err := optionalDecimal(r.FormValue("sponsorshipFee"))
	if err != nil {
		httpx.WriteError(w, 400, "sponsorshipFee is not a valid amount")
		return
	}
	sponsorFees := formBool(r, "sponsorFees")

	var staged StagedFiles
	var savedNames []string
	// A failed stage must never leave orphaned files behind. Removal errors
	// are logged and swallowed; the files are unreachable either way.
	discard := func() {
		for _, name := range savedNames {
			if err := h.files.RemoveStaged(name); err != nil {
				log.Printf("stage: remove staged file %s: %v", name, err)
			}
		}
	}
	for _, part := range []struct {
		field string
		dst   *string
	}{
		{"thumbnail", &staged.ThumbnailName},
		{"document", &staged.DocumentName},
		{"encryptedDocument", &staged.EncryptedDocumentName},
	} {
		f, fh, err := r.FormFile(part.field)
		if errors.Is(err, http.ErrMissingFile) {
			continue
		}
		if err != nil {
			discard()
			httpx.WriteError(w, 400, part.field+": "+err.Error())
			return
		}
		if fh.Size > maxUploadBytes {
			f.Close()
			discard()
			httpx.WriteError(w, 400, part.field+" exceeds the 10MB limit")
			return
		}
		if !allowedUploadType(fh.Header.Get("Content-Type")) {
			f.Close()
			discard()
			httpx.WriteError(w, 400, part.field+" must be an image or a PDF")
			return
		}
		name, err := h.files.SaveStaged(part.field, fh.Filename, f)
		f.Close()
		if err != nil {
			discard()
			httpx.WriteError(w, 500, err.Error())
			return
		}
		savedNames = append(savedNames, name)
		*part.dst = name
	}

	now := h.now().UTC()
	transactionID := NewTransactionID(now)
	hasDocument := staged.DocumentName != "" || staged.EncryptedDocumentName != "" || formBool(r, "hasDocument")

	stagedRecipients := make([]StagedRecipient, len(recipients))
	for i, addr := range recipients {
		stagedRecipients[i] = StagedRecipient{
			RecipientAddress: addr,
			NoticeID:         NoticeID(now, i),
			RecipientIndex:   i,
			Status:           RecipientPending,
		}
	}

	totalFee := h.cfg.TotalFee(len(recipients), sponsorFees, creationOverride, sponsorshipOverride)
	estimate := h.cfg.Estimate(len(recipients), hasDocument)

	rec := &StagedRecord{
		Transaction: StagedTransaction{
			TransactionID:   transactionID,
			SessionID:       sessionID,
			Status:          StatusStaged,
			Network:         defaultString(r.FormValue("network"), "mainnet"),
			ServerAddress:   serverAddress,
			ContractAddress: strings.TrimSpace(r.FormValue("contractAddress")),
			RecipientCount:  len(recipients),
			TotalFeeTRX:     totalFee,
			CreatedAt:       now,
			ExpiresAt:       now.Add(h.cfg.StageTTL),
		},
		Notice: StagedNotice{
			NoticeType:        r.FormValue("noticeType"),
			CaseNumber:        r.FormValue("caseNumber"),
			IssuingAgency:     r.FormValue("issuingAgency"),
			PublicText:        r.FormValue("publicText"),
			CaseDetails:       r.FormValue("caseDetails"),
			LegalRights:       r.FormValue("legalRights"),
			HasDocument:       hasDocument,
			RequiresSignature: formBool(r, "requiresSignature"),
			TokenName:         r.FormValue("tokenName"),
			DeliveryMethod:    r.FormValue("deliveryMethod"),
		},
		Recipients: stagedRecipients,
		Estimate:   &estimate,
	}
	if !staged.Empty() {
		rec.Files = &staged
	}
	ipfs := StagedIPFS{
		IPFSHash:      strings.TrimSpace(r.FormValue("ipfsHash")),
		EncryptedIPFS: strings.TrimSpace(r.FormValue("encryptedIpfs")),
		EncryptionKey: strings.TrimSpace(r.FormValue("encryptionKey")),
		MetadataURI:   strings.TrimSpace(r.FormValue("metadataUri")),
	}
	if !ipfs.Empty() {
		rec.IPFS = &ipfs
	}

	if err := h.store.Stage(r.Context(), rec); err != nil {
		discard()
		httpx.WriteError(w, 500, err.Error())
		return
	}

	if err := h.store.RecordAuditEvent(r.Context(), transactionID, "TRANSACTION_STAGED", map[string]any{
		"sessionId":      sessionID,
		"recipientCount": len(recipients),
		"totalFeeTRX":    totalFee,
	}); err != nil {
		log.Printf("stage %s: audit event: %v", transactionID, err)
	}

	respRecipients := make([]map[string]any, len(stagedRecipients))
	for i, sr := range stagedRecipients {
		respRecipients[i] = map[string]any{
			"address":        sr.RecipientAddress,
			"noticeId":       sr.NoticeID,
			"recipientIndex": sr.RecipientIndex,
		}
	}
	resp := map[string]any{
		"success":       true,
		"transactionId": transactionID,
		"sessionId":     sessionID,
		"status":        StatusStaged,
		"recipients":    respRecipients,
		"files": map[string]any{
			"thumbnailUrl":         stagedURLOrNil(h.files, staged.ThumbnailName),
			"documentUrl":          stagedURLOrNil(h.files, staged.DocumentName),
			"encryptedDocumentUrl": stagedURLOrNil(h.files, staged.EncryptedDocumentName),
		},
		"estimates": map[string]any{
			"energyRequired": estimate.EstimatedEnergy,
			"burningCostTRX": estimate.BurningCostTRX,
			"rentalCostTRX":  estimate.RentalCostTRX,
			"savingsTRX":     estimate.SavingsTRX,
			"totalFeeTRX":    totalFee,
			"recipientCount": len(recipients),
			"sponsorFees":    sponsorFees,
		},
		"expiresAt": rec.Transaction.ExpiresAt.Format(time.RFC3339),
	}

	if idemKey != "" {
		buf := bytes.Buffer{}
		_ = json.NewEncoder(&buf).Encode(resp)
		if err := h.store.SaveIdempotencyRecord(r.Context(), IdempotencyRecord{
			SessionID:      sessionID,
			IdempotencyKey: idemKey,
			Endpoint:       stageEndpoint,
			ResponseStatus: 200,
			ResponseBody:   bytes.TrimSpace(buf.Bytes()),
		}); err != nil {
			log.Printf("stage %s: save idempotency record: %v", transactionID, err)
		}
	}
	httpx.WriteJSON(w, 200, resp)
}

func (h *Handler) HandleRetrieve(w http.ResponseWriter, r *http.Request) {
	transactionID := strings.TrimSpace(chi.URLParam(r, "transactionId"))
	rec, err := h.store.Get(r.Context(), transactionID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			httpx.WriteJSON(w, 404, map[string]any{
				"success":       false,
				"error":         "transaction not found or expired",
				"transactionId": transactionID,
			})
			return
		}
		// transaction_id echoed so the client can correlate the failure.
		httpx.WriteJSON(w, 500, map[string]any{
			"success":       false,
			"error":         err.Error(),
			"transactionId": transactionID,
		})
		return
	}
	httpx.WriteJSON(w, 200, map[string]any{
		"success":       true,
		"transactionId": rec.Transaction.TransactionID,
		"status":        rec.Transaction.Status,
		"expiresAt":     rec.Transaction.ExpiresAt.Format(time.RFC3339),
		"completeData":  rec,
	})
}

func (h *Handler) HandleExecute(w http.ResponseWriter, r *http.Request) {
	transactionID := strings.TrimSpace(chi.URLParam(r, "transactionId"))
	var ev ExecutionEvidence
	if err := httpx.ReadJSON(r, &ev); err != nil {
		httpx.WriteError(w, 400, "invalid execution payload: "+err.Error())
		return
	}
	if strings.TrimSpace(ev.BlockchainTxHash) == "" {
		httpx.WriteError(w, 400, "blockchainTxHash is required")
		return
	}

	result, promote, err := h.store.Execute(r.Context(), transactionID, ev)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			httpx.WriteError(w, 404, ErrNotFound.Error())
			return
		}
		httpx.WriteError(w, 500, err.Error())
		return
	}

	// Promotion out of the staging namespace is best-effort: the DB record
	// is authoritative, a failed rename is logged and skipped.
	for _, name := range promote {
		if err := h.files.Promote(name); err != nil {
			log.Printf("execute %s: promote %s: %v (skipped)", transactionID, name, err)
		}
	}

	if err := h.store.RecordAuditEvent(r.Context(), transactionID, "TRANSACTION_EXECUTED", map[string]any{
		"blockchainTxHash": ev.BlockchainTxHash,
		"recipientCount":   len(result.Recipients),
	}); err != nil {
		log.Printf("execute %s: audit event: %v", transactionID, err)
	}

	httpx.WriteJSON(w, 200, map[string]any{
		"success":          true,
		"transactionId":    result.TransactionID,
		"blockchainTxHash": result.BlockchainTxHash,
		"recipients":       result.Recipients,
	})
}

func (h *Handler) HandleCleanup(w http.ResponseWriter, r *http.Request) {
	expired, err := h.store.ExpiredStaged(r.Context())
	if err != nil {
		httpx.WriteError(w, 500, err.Error())
		return
	}

	// Each delete is independently re-runnable, so one failure does not
	// abort the sweep; failed ids stay expired and the next run retries them.
	cleaned := []string{}
	failed := 0
	for _, c := range expired {
		for _, name := range c.StagedFileNames {
			if err := h.files.RemoveStaged(name); err != nil {
				log.Printf("cleanup %s: remove staged file %s: %v", c.TransactionID, name, err)
			}
		}
		if err := h.store.DeleteStaged(r.Context(), c.TransactionID); err != nil {
			log.Printf("cleanup %s: delete staged rows: %v", c.TransactionID, err)
			failed++
			continue
		}
		cleaned = append(cleaned, c.TransactionID)
	}

	if len(cleaned) > 0 {
		if err := h.store.RecordAuditEvent(r.Context(), "", "STAGED_TRANSACTIONS_CLEANED", map[string]any{
			"transactionIds": cleaned,
		}); err != nil {
			log.Printf("cleanup: audit event: %v", err)
		}
	}

	if failed > 0 {
		httpx.WriteJSON(w, 500, map[string]any{
			"success":        false,
			"error":          fmt.Sprintf("failed to clean %d of %d expired transactions", failed, len(expired)),
			"cleaned":        len(cleaned),
			"transactionIds": cleaned,
		})
		return
	}

	httpx.WriteJSON(w, 200, map[string]any{
		"success":        true,
		"cleaned":        len(cleaned),
		"transactionIds": cleaned,
	})
}

func allowedUploadType(contentType string) bool {
	ct := strings.ToLower(strings.TrimSpace(contentType))
	return strings.HasPrefix(ct, "image/") || ct == "application/pdf"
}

func formBool(r *http.Request, field string) bool {
	switch strings.ToLower(strings.TrimSpace(r.FormValue(field))) {
	case "true", "1", "yes":
		return true
	}
	return false
}

func optionalDecimal(raw string) (*decimal.Decimal, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func defaultString(v, def string) string {
	v = strings.TrimSpace(v)
	if v == "" {
		return def
	}
	return v
}

func stagedURLOrNil(files FileStore, name string) any {
	if name == "" {
		return nil
	}
	return files.StagedURL(name)
}
