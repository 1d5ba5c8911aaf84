package staging

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
)

type fakeStore struct {
	stagedRec  *StagedRecord
	stageErr   error
	stageCalls int

	getRec *StagedRecord
	getErr error

	execResult   *ExecutionResult
	execPromote  []string
	execErr      error
	execCalls    int
	lastEvidence ExecutionEvidence

	expired      []CleanedTransaction
	expiredErr   error
	deleted      []string
	deleteErr    error
	deleteErrFor string

	idemRec   *IdempotencyRecord
	savedIdem []IdempotencyRecord

	auditEvents []string
}

func (f *fakeStore) Stage(ctx context.Context, rec *StagedRecord) error {
	f.stageCalls++
	f.stagedRec = rec
	return f.stageErr
}

func (f *fakeStore) Get(ctx context.Context, transactionID string) (*StagedRecord, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	return f.getRec, nil
}

func (f *fakeStore) Execute(ctx context.Context, transactionID string, ev ExecutionEvidence) (*ExecutionResult, []string, error) {
	f.execCalls++
	f.lastEvidence = ev
	if f.execErr != nil {
		return nil, nil, f.execErr
	}
	return f.execResult, f.execPromote, nil
}

func (f *fakeStore) ExpiredStaged(ctx context.Context) ([]CleanedTransaction, error) {
	return f.expired, f.expiredErr
}

func (f *fakeStore) DeleteStaged(ctx context.Context, transactionID string) error {
	if f.deleteErr != nil && (f.deleteErrFor == "" || f.deleteErrFor == transactionID) {
		return f.deleteErr
	}
	f.deleted = append(f.deleted, transactionID)
	return nil
}

func (f *fakeStore) GetIdempotencyRecord(ctx context.Context, sessionID, key, endpoint string) (*IdempotencyRecord, error) {
	return f.idemRec, nil
}

func (f *fakeStore) SaveIdempotencyRecord(ctx context.Context, rec IdempotencyRecord) error {
	f.savedIdem = append(f.savedIdem, rec)
	return nil
}

func (f *fakeStore) RecordAuditEvent(ctx context.Context, transactionID, eventType string, payload map[string]any) error {
	f.auditEvents = append(f.auditEvents, eventType)
	return nil
}

type fakeFiles struct {
	saved      []string
	saveErr    error
	removed    []string
	promoted   []string
	promoteErr error
}

func (f *fakeFiles) SaveStaged(field, originalName string, src io.Reader) (string, error) {
	if f.saveErr != nil {
		return "", f.saveErr
	}
	name := fmt.Sprintf("file%d_%s", len(f.saved), field)
	f.saved = append(f.saved, name)
	return name, nil
}

func (f *fakeFiles) Promote(name string) error {
	if f.promoteErr != nil {
		return f.promoteErr
	}
	f.promoted = append(f.promoted, name)
	return nil
}

func (f *fakeFiles) RemoveStaged(name string) error {
	f.removed = append(f.removed, name)
	return nil
}

func (f *fakeFiles) StagedURL(name string) string { return "staged/" + name }

type filePart struct {
	field       string
	filename    string
	contentType string
	content     []byte
}

func multipartRequest(t *testing.T, fields map[string]string, parts []filePart) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			t.Fatalf("write field: %v", err)
		}
	}
	for _, fp := range parts {
		hdr := textproto.MIMEHeader{}
		hdr.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, fp.field, fp.filename))
		hdr.Set("Content-Type", fp.contentType)
		pw, err := mw.CreatePart(hdr)
		if err != nil {
			t.Fatalf("create part: %v", err)
		}
		if _, err := pw.Write(fp.content); err != nil {
			t.Fatalf("write part: %v", err)
		}
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close multipart: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/transaction", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func withChiParams(req *http.Request, kv ...string) *http.Request {
	rc := chi.NewRouteContext()
	for i := 0; i+1 < len(kv); i += 2 {
		rc.URLParams.Add(kv[i], kv[i+1])
	}
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rc))
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("non-JSON response body: %v (%s)", err, rr.Body.String())
	}
	return body
}

func TestHandleStage_SingleRecipientNoDocument(t *testing.T) {
	store := &fakeStore{}
	files := &fakeFiles{}
	cfg := DefaultConfig()
	h := NewHandler(store, files, cfg)

	req := multipartRequest(t, map[string]string{
		"recipients":    "TRecipientA",
		"serverAddress": "TServer1",
		"noticeType":    "summons",
		"caseNumber":    "CV-2024-001",
	}, nil)
	rr := httptest.NewRecorder()
	h.HandleStage(rr, req)

	if rr.Code != 200 {
		t.Fatalf("expected 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	body := decodeBody(t, rr)
	if body["success"] != true || body["status"] != "staged" {
		t.Fatalf("unexpected envelope: %v", body)
	}
	estimates := body["estimates"].(map[string]any)
	if int64(estimates["energyRequired"].(float64)) != cfg.BaseEnergy {
		t.Fatalf("single recipient no document must cost base energy, got %v", estimates["energyRequired"])
	}
	totalFee := decimal.RequireFromString(estimates["totalFeeTRX"].(string))
	if !totalFee.Equal(cfg.CreationFeeTRX) {
		t.Fatalf("sponsorFees defaults false, expected creation fee alone, got %s", totalFee)
	}

	rec := store.stagedRec
	if rec == nil {
		t.Fatalf("expected staged record")
	}
	if rec.Transaction.RecipientCount != 1 || len(rec.Recipients) != 1 {
		t.Fatalf("expected one recipient, got %+v", rec)
	}
	if rec.Recipients[0].RecipientIndex != 0 || rec.Recipients[0].NoticeID == "" {
		t.Fatalf("unexpected recipient row: %+v", rec.Recipients[0])
	}
	if !rec.Transaction.ExpiresAt.Equal(rec.Transaction.CreatedAt.Add(cfg.StageTTL)) {
		t.Fatalf("expiry must be created_at + TTL")
	}
	if rec.Notice.HasDocument {
		t.Fatalf("no document uploaded, has_document must be false")
	}
	if rec.Files != nil {
		t.Fatalf("no files staged, files row must be absent")
	}
}

func TestHandleStage_SponsoredFeeComputation(t *testing.T) {
	store := &fakeStore{}
	h := NewHandler(store, &fakeFiles{}, DefaultConfig())

	req := multipartRequest(t, map[string]string{
		"recipients":    `["TAddr1","TAddr2","TAddr3"]`,
		"serverAddress": "TServer1",
		"sponsorFees":   "true",
	}, nil)
	rr := httptest.NewRecorder()
	h.HandleStage(rr, req)

	if rr.Code != 200 {
		t.Fatalf("expected 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	if !store.stagedRec.Transaction.TotalFeeTRX.Equal(decimal.NewFromInt(26)) {
		t.Fatalf("expected total fee 26, got %s", store.stagedRec.Transaction.TotalFeeTRX)
	}
	for i, r := range store.stagedRec.Recipients {
		if r.RecipientIndex != i {
			t.Fatalf("recipient_index must follow array position: %+v", store.stagedRec.Recipients)
		}
	}
}

func TestHandleStage_ValidationFailuresBeforeStorage(t *testing.T) {
	cases := []map[string]string{
		{"serverAddress": "TServer1"},               // no recipients
		{"recipients": "TAddr1"},                    // no server address
		{"recipients": `[]`, "serverAddress": "TS"}, // empty recipient array
	}
	for _, fields := range cases {
		store := &fakeStore{}
		h := NewHandler(store, &fakeFiles{}, DefaultConfig())
		rr := httptest.NewRecorder()
		h.HandleStage(rr, multipartRequest(t, fields, nil))
		if rr.Code != 400 {
			t.Fatalf("fields=%v expected 400, got %d body=%s", fields, rr.Code, rr.Body.String())
		}
		if store.stageCalls != 0 {
			t.Fatalf("fields=%v validation error must not reach the store", fields)
		}
	}
}

func TestHandleStage_RecipientCountCap(t *testing.T) {
	addrs := func(n int) string {
		parts := make([]string, n)
		for i := range parts {
			parts[i] = fmt.Sprintf("%q", fmt.Sprintf("TAddr%03d", i))
		}
		return "[" + strings.Join(parts, ",") + "]"
	}

	store := &fakeStore{}
	h := NewHandler(store, &fakeFiles{}, DefaultConfig())
	rr := httptest.NewRecorder()
	h.HandleStage(rr, multipartRequest(t, map[string]string{
		"recipients":    addrs(maxRecipients + 1),
		"serverAddress": "TServer1",
	}, nil))
	if rr.Code != 400 {
		t.Fatalf("expected 400 over the recipient cap, got %d body=%s", rr.Code, rr.Body.String())
	}
	if store.stageCalls != 0 {
		t.Fatalf("over-cap request must not reach the store")
	}

	// Exactly at the cap still stages, and notice ids stay distinct.
	store = &fakeStore{}
	h = NewHandler(store, &fakeFiles{}, DefaultConfig())
	rr = httptest.NewRecorder()
	h.HandleStage(rr, multipartRequest(t, map[string]string{
		"recipients":    addrs(maxRecipients),
		"serverAddress": "TServer1",
	}, nil))
	if rr.Code != 200 {
		t.Fatalf("expected 200 at the recipient cap, got %d body=%s", rr.Code, rr.Body.String())
	}
	seen := map[string]bool{}
	for _, r := range store.stagedRec.Recipients {
		if seen[r.NoticeID] {
			t.Fatalf("duplicate notice id %s at the cap", r.NoticeID)
		}
		seen[r.NoticeID] = true
	}
}

func TestHandleStage_DocumentUploadSetsHasDocument(t *testing.T) {
	store := &fakeStore{}
	files := &fakeFiles{}
	cfg := DefaultConfig()
	h := NewHandler(store, files, cfg)

	req := multipartRequest(t, map[string]string{
		"recipients":    "TAddr1",
		"serverAddress": "TServer1",
	}, []filePart{
		{"thumbnail", "thumb.png", "image/png", []byte("png-bytes")},
		{"document", "notice.pdf", "application/pdf", []byte("pdf-bytes")},
	})
	rr := httptest.NewRecorder()
	h.HandleStage(rr, req)

	if rr.Code != 200 {
		t.Fatalf("expected 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	rec := store.stagedRec
	if rec.Files == nil || rec.Files.ThumbnailName == "" || rec.Files.DocumentName == "" {
		t.Fatalf("expected staged file names, got %+v", rec.Files)
	}
	if !rec.Notice.HasDocument {
		t.Fatalf("document upload must set has_document")
	}
	if rec.Estimate.EstimatedEnergy != cfg.BaseEnergy+cfg.DocumentEnergy {
		t.Fatalf("expected document energy surcharge, got %d", rec.Estimate.EstimatedEnergy)
	}
	body := decodeBody(t, rr)
	respFiles := body["files"].(map[string]any)
	if !strings.HasPrefix(respFiles["documentUrl"].(string), "staged/") {
		t.Fatalf("staged files must be served from the staging namespace: %v", respFiles)
	}
}

func TestHandleStage_RejectsBadContentType(t *testing.T) {
	store := &fakeStore{}
	files := &fakeFiles{}
	h := NewHandler(store, files, DefaultConfig())

	req := multipartRequest(t, map[string]string{
		"recipients":    "TAddr1",
		"serverAddress": "TServer1",
	}, []filePart{
		{"document", "evil.exe", "application/octet-stream", []byte("nope")},
	})
	rr := httptest.NewRecorder()
	h.HandleStage(rr, req)

	if rr.Code != 400 {
		t.Fatalf("expected 400, got %d body=%s", rr.Code, rr.Body.String())
	}
	if store.stageCalls != 0 {
		t.Fatalf("rejected upload must not reach the store")
	}
	if len(files.saved) != 0 {
		t.Fatalf("rejected upload must not be written")
	}
}

func TestHandleStage_RejectsOversizedFile(t *testing.T) {
	store := &fakeStore{}
	files := &fakeFiles{}
	h := NewHandler(store, files, DefaultConfig())

	req := multipartRequest(t, map[string]string{
		"recipients":    "TAddr1",
		"serverAddress": "TServer1",
	}, []filePart{
		{"document", "big.pdf", "application/pdf", make([]byte, maxUploadBytes+1)},
	})
	rr := httptest.NewRecorder()
	h.HandleStage(rr, req)

	if rr.Code != 400 {
		t.Fatalf("expected 400, got %d body=%s", rr.Code, rr.Body.String())
	}
	if store.stageCalls != 0 {
		t.Fatalf("oversized upload must not reach the store")
	}
}

func TestHandleStage_StoreFailureRemovesStagedFiles(t *testing.T) {
	store := &fakeStore{stageErr: fmt.Errorf("insert failed")}
	files := &fakeFiles{}
	h := NewHandler(store, files, DefaultConfig())

	req := multipartRequest(t, map[string]string{
		"recipients":    "TAddr1",
		"serverAddress": "TServer1",
	}, []filePart{
		{"thumbnail", "thumb.png", "image/png", []byte("png-bytes")},
	})
	rr := httptest.NewRecorder()
	h.HandleStage(rr, req)

	if rr.Code != 500 {
		t.Fatalf("expected 500, got %d body=%s", rr.Code, rr.Body.String())
	}
	if len(files.saved) != 1 || len(files.removed) != 1 || files.removed[0] != files.saved[0] {
		t.Fatalf("failed stage must remove staged files: saved=%v removed=%v", files.saved, files.removed)
	}
	body := decodeBody(t, rr)
	if body["success"] != false || body["error"] == "" {
		t.Fatalf("expected JSON error envelope, got %v", body)
	}
}

func TestHandleStage_IdempotencyKeyReplaysStoredResponse(t *testing.T) {
	stored := []byte(`{"success":true,"transactionId":"TXN_1700000000000_deadbeef"}`)
	store := &fakeStore{idemRec: &IdempotencyRecord{ResponseStatus: 200, ResponseBody: stored}}
	h := NewHandler(store, &fakeFiles{}, DefaultConfig())

	req := multipartRequest(t, map[string]string{
		"recipients":    "TAddr1",
		"serverAddress": "TServer1",
		"sessionId":     "ses_1",
	}, nil)
	req.Header.Set("Idempotency-Key", "key-1")
	rr := httptest.NewRecorder()
	h.HandleStage(rr, req)

	if rr.Code != 200 {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if store.stageCalls != 0 {
		t.Fatalf("replay must not stage again")
	}
	if !bytes.Equal(bytes.TrimSpace(rr.Body.Bytes()), stored) {
		t.Fatalf("expected stored response verbatim, got %s", rr.Body.String())
	}
}

func TestHandleStage_SavesIdempotencyRecord(t *testing.T) {
	store := &fakeStore{}
	h := NewHandler(store, &fakeFiles{}, DefaultConfig())

	req := multipartRequest(t, map[string]string{
		"recipients":    "TAddr1",
		"serverAddress": "TServer1",
		"sessionId":     "ses_1",
	}, nil)
	req.Header.Set("Idempotency-Key", "key-1")
	rr := httptest.NewRecorder()
	h.HandleStage(rr, req)

	if rr.Code != 200 {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if len(store.savedIdem) != 1 {
		t.Fatalf("expected idempotency record save")
	}
	saved := store.savedIdem[0]
	if saved.SessionID != "ses_1" || saved.IdempotencyKey != "key-1" || saved.Endpoint != stageEndpoint {
		t.Fatalf("unexpected idempotency record: %+v", saved)
	}
}

func TestHandleExecute_Success(t *testing.T) {
	store := &fakeStore{
		execResult: &ExecutionResult{
			TransactionID:    "TXN_1",
			BlockchainTxHash: "0xabc",
			Recipients: []ExecutedRecipient{
				{Address: "TAddr1", NoticeID: "0000000100", AlertID: "10", DocumentID: "20"},
			},
		},
		execPromote: []string{"doc1.pdf", "thumb1.png"},
	}
	files := &fakeFiles{}
	h := NewHandler(store, files, DefaultConfig())

	req := httptest.NewRequest(http.MethodPost, "/execute/TXN_1",
		strings.NewReader(`{"blockchainTxHash":"0xabc","alertIds":["10"],"documentIds":["20"],"energyUsed":64000}`))
	req = withChiParams(req, "transactionId", "TXN_1")
	rr := httptest.NewRecorder()
	h.HandleExecute(rr, req)

	if rr.Code != 200 {
		t.Fatalf("expected 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	if store.execCalls != 1 {
		t.Fatalf("expected one execute call")
	}
	if store.lastEvidence.BlockchainTxHash != "0xabc" || store.lastEvidence.EnergyUsed == nil {
		t.Fatalf("evidence not forwarded: %+v", store.lastEvidence)
	}
	if len(files.promoted) != 2 {
		t.Fatalf("expected both staged files promoted, got %v", files.promoted)
	}
	body := decodeBody(t, rr)
	if body["blockchainTxHash"] != "0xabc" {
		t.Fatalf("unexpected body: %v", body)
	}
	recipients := body["recipients"].([]any)
	first := recipients[0].(map[string]any)
	if first["alertId"] != "10" || first["noticeId"] != "0000000100" {
		t.Fatalf("unexpected recipient payload: %v", first)
	}
}

func TestHandleExecute_PromoteFailureIsNotFatal(t *testing.T) {
	store := &fakeStore{
		execResult:  &ExecutionResult{TransactionID: "TXN_1", BlockchainTxHash: "0xabc"},
		execPromote: []string{"doc1.pdf"},
	}
	files := &fakeFiles{promoteErr: fmt.Errorf("rename failed")}
	h := NewHandler(store, files, DefaultConfig())

	req := httptest.NewRequest(http.MethodPost, "/execute/TXN_1", strings.NewReader(`{"blockchainTxHash":"0xabc"}`))
	req = withChiParams(req, "transactionId", "TXN_1")
	rr := httptest.NewRecorder()
	h.HandleExecute(rr, req)

	if rr.Code != 200 {
		t.Fatalf("file promotion is best-effort, expected 200, got %d", rr.Code)
	}
}

func TestHandleExecute_NotFoundExpiredOrExecuted(t *testing.T) {
	store := &fakeStore{execErr: ErrNotFound}
	h := NewHandler(store, &fakeFiles{}, DefaultConfig())

	req := httptest.NewRequest(http.MethodPost, "/execute/TXN_gone", strings.NewReader(`{"blockchainTxHash":"0xabc"}`))
	req = withChiParams(req, "transactionId", "TXN_gone")
	rr := httptest.NewRecorder()
	h.HandleExecute(rr, req)

	if rr.Code != 404 {
		t.Fatalf("expected 404, got %d body=%s", rr.Code, rr.Body.String())
	}
}

func TestHandleExecute_RequiresTxHash(t *testing.T) {
	store := &fakeStore{}
	h := NewHandler(store, &fakeFiles{}, DefaultConfig())

	req := httptest.NewRequest(http.MethodPost, "/execute/TXN_1", strings.NewReader(`{"alertIds":["10"]}`))
	req = withChiParams(req, "transactionId", "TXN_1")
	rr := httptest.NewRecorder()
	h.HandleExecute(rr, req)

	if rr.Code != 400 {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
	if store.execCalls != 0 {
		t.Fatalf("missing hash must not reach the store")
	}
}

func TestHandleRetrieve_Success(t *testing.T) {
	expires := time.Now().UTC().Add(20 * time.Minute).Truncate(time.Second)
	store := &fakeStore{
		getRec: &StagedRecord{
			Transaction: StagedTransaction{
				TransactionID: "TXN_1",
				Status:        StatusStaged,
				ExpiresAt:     expires,
			},
			Recipients: []StagedRecipient{{RecipientAddress: "TAddr1", NoticeID: "0000000100", Status: RecipientPending}},
		},
	}
	h := NewHandler(store, &fakeFiles{}, DefaultConfig())

	req := httptest.NewRequest(http.MethodGet, "/transaction/TXN_1", nil)
	req = withChiParams(req, "transactionId", "TXN_1")
	rr := httptest.NewRecorder()
	h.HandleRetrieve(rr, req)

	if rr.Code != 200 {
		t.Fatalf("expected 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	body := decodeBody(t, rr)
	if body["transactionId"] != "TXN_1" || body["status"] != "staged" {
		t.Fatalf("unexpected body: %v", body)
	}
	if body["completeData"] == nil {
		t.Fatalf("expected completeData payload")
	}
}

func TestHandleRetrieve_NotFoundEchoesTransactionID(t *testing.T) {
	store := &fakeStore{getErr: ErrNotFound}
	h := NewHandler(store, &fakeFiles{}, DefaultConfig())

	req := httptest.NewRequest(http.MethodGet, "/transaction/TXN_gone", nil)
	req = withChiParams(req, "transactionId", "TXN_gone")
	rr := httptest.NewRecorder()
	h.HandleRetrieve(rr, req)

	if rr.Code != 404 {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
	body := decodeBody(t, rr)
	if body["transactionId"] != "TXN_gone" || body["success"] != false {
		t.Fatalf("expected transaction id echoed in error payload, got %v", body)
	}
}

func TestHandleCleanup_RemovesFilesAndRows(t *testing.T) {
	store := &fakeStore{
		expired: []CleanedTransaction{
			{TransactionID: "TXN_old1", StagedFileNames: []string{"a.pdf", "a.png"}},
			{TransactionID: "TXN_old2"},
		},
	}
	files := &fakeFiles{}
	h := NewHandler(store, files, DefaultConfig())

	req := httptest.NewRequest(http.MethodDelete, "/cleanup", nil)
	rr := httptest.NewRecorder()
	h.HandleCleanup(rr, req)

	if rr.Code != 200 {
		t.Fatalf("expected 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	if len(files.removed) != 2 {
		t.Fatalf("expected staged files removed, got %v", files.removed)
	}
	if len(store.deleted) != 2 || store.deleted[0] != "TXN_old1" {
		t.Fatalf("expected both transactions deleted, got %v", store.deleted)
	}
	body := decodeBody(t, rr)
	if int(body["cleaned"].(float64)) != 2 {
		t.Fatalf("expected cleaned=2, got %v", body["cleaned"])
	}
	ids := body["transactionIds"].([]any)
	if len(ids) != 2 {
		t.Fatalf("expected two cleaned ids, got %v", ids)
	}
}

func TestHandleCleanup_PartialFailureReportsCleanedIDs(t *testing.T) {
	store := &fakeStore{
		expired: []CleanedTransaction{
			{TransactionID: "TXN_old1", StagedFileNames: []string{"a.pdf"}},
			{TransactionID: "TXN_old2", StagedFileNames: []string{"b.pdf"}},
		},
		deleteErr:    fmt.Errorf("deadlock"),
		deleteErrFor: "TXN_old1",
	}
	files := &fakeFiles{}
	h := NewHandler(store, files, DefaultConfig())

	rr := httptest.NewRecorder()
	h.HandleCleanup(rr, httptest.NewRequest(http.MethodDelete, "/cleanup", nil))

	if rr.Code != 500 {
		t.Fatalf("expected 500 on partial failure, got %d body=%s", rr.Code, rr.Body.String())
	}
	if len(store.deleted) != 1 || store.deleted[0] != "TXN_old2" {
		t.Fatalf("one failed delete must not stop the sweep, got %v", store.deleted)
	}
	if len(files.removed) != 2 {
		t.Fatalf("staged files removed for both transactions, got %v", files.removed)
	}
	body := decodeBody(t, rr)
	if body["success"] != false {
		t.Fatalf("partial failure must not claim success: %v", body)
	}
	if int(body["cleaned"].(float64)) != 1 {
		t.Fatalf("expected cleaned=1, got %v", body["cleaned"])
	}
	ids := body["transactionIds"].([]any)
	if len(ids) != 1 || ids[0] != "TXN_old2" {
		t.Fatalf("response must carry the ids that were cleaned, got %v", ids)
	}
}

func TestHandleCleanup_NothingExpired(t *testing.T) {
	store := &fakeStore{}
	h := NewHandler(store, &fakeFiles{}, DefaultConfig())

	rr := httptest.NewRecorder()
	h.HandleCleanup(rr, httptest.NewRequest(http.MethodDelete, "/cleanup", nil))

	if rr.Code != 200 {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	body := decodeBody(t, rr)
	if int(body["cleaned"].(float64)) != 0 {
		t.Fatalf("expected cleaned=0, got %v", body)
	}
	if body["transactionIds"] == nil {
		t.Fatalf("transactionIds must be present even when empty")
	}
}
