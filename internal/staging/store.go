package staging

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/JGooseK41/NFTServiceApp-sub002/internal/filestore"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Store struct {
	DB *pgxpool.Pool
}

func NewStore(db *pgxpool.Pool) *Store {
	return &Store{DB: db}
}

// Stage persists the parent row and every child row in one transaction.
// Either the whole staged record commits or none of it does.
func (s *Store) Stage(ctx context.Context, rec *StagedRecord) error {
	tx, err := s.DB.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	t := rec.Transaction
	if _, err := tx.Exec(ctx, `
INSERT INTO staged_transactions(transaction_id,session_id,status,network,server_address,contract_address,recipient_count,total_fee,created_at,expires_at)
VALUES($1,$2,'staged',$3,$4,$5,$6,$7,$8,$9)
`, t.TransactionID, t.SessionID, t.Network, t.ServerAddress, nullable(t.ContractAddress), t.RecipientCount, t.TotalFeeTRX, t.CreatedAt, t.ExpiresAt); err != nil {
		return err
	}

	n := rec.Notice
	if _, err := tx.Exec(ctx, `
INSERT INTO staged_notices(transaction_id,notice_type,case_number,issuing_agency,public_text,case_details,legal_rights,has_document,requires_signature,token_name,delivery_method)
VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
`, t.TransactionID, n.NoticeType, n.CaseNumber, n.IssuingAgency, n.PublicText, n.CaseDetails, n.LegalRights, n.HasDocument, n.RequiresSignature, n.TokenName, n.DeliveryMethod); err != nil {
		return err
	}

	if rec.Files != nil && !rec.Files.Empty() {
		f := rec.Files
		if _, err := tx.Exec(ctx, `
INSERT INTO staged_files(transaction_id,thumbnail_name,document_name,encrypted_document_name)
VALUES($1,$2,$3,$4)
`, t.TransactionID, nullable(f.ThumbnailName), nullable(f.DocumentName), nullable(f.EncryptedDocumentName)); err != nil {
			return err
		}
	}

	if rec.IPFS != nil && !rec.IPFS.Empty() {
		p := rec.IPFS
		if _, err := tx.Exec(ctx, `
INSERT INTO staged_ipfs(transaction_id,ipfs_hash,encrypted_ipfs,encryption_key,metadata_uri)
VALUES($1,$2,$3,$4,$5)
`, t.TransactionID, nullable(p.IPFSHash), nullable(p.EncryptedIPFS), nullable(p.EncryptionKey), nullable(p.MetadataURI)); err != nil {
			return err
		}
	}

	for _, r := range rec.Recipients {
		if _, err := tx.Exec(ctx, `
INSERT INTO staged_recipients(transaction_id,recipient_index,recipient_address,notice_id,status)
VALUES($1,$2,$3,$4,'pending')
`, t.TransactionID, r.RecipientIndex, r.RecipientAddress, r.NoticeID); err != nil {
			return err
		}
	}

	if rec.Estimate != nil {
		e := rec.Estimate
		if _, err := tx.Exec(ctx, `
INSERT INTO staged_energy_estimates(transaction_id,estimated_energy,burning_cost_trx,rental_cost_trx,savings_trx)
VALUES($1,$2,$3,$4,$5)
`, t.TransactionID, e.EstimatedEnergy, e.BurningCostTRX, e.RentalCostTRX, e.SavingsTRX); err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}

// Get reassembles the full staged record. Expired rows are treated as not
// found even though they still physically exist until cleanup runs.
func (s *Store) Get(ctx context.Context, transactionID string) (*StagedRecord, error) {
	var rec StagedRecord
	t := &rec.Transaction
	err := s.DB.QueryRow(ctx, `
SELECT transaction_id,session_id,status,network,server_address,COALESCE(contract_address,''),recipient_count,total_fee,created_at,expires_at,blockchain_tx_hash,energy_used,executed_at
FROM staged_transactions
WHERE transaction_id=$1 AND expires_at > now()
`, transactionID).Scan(&t.TransactionID, &t.SessionID, &t.Status, &t.Network, &t.ServerAddress, &t.ContractAddress,
		&t.RecipientCount, &t.TotalFeeTRX, &t.CreatedAt, &t.ExpiresAt, &t.BlockchainTxHash, &t.EnergyUsed, &t.ExecutedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	n := &rec.Notice
	err = s.DB.QueryRow(ctx, `
SELECT COALESCE(notice_type,''),COALESCE(case_number,''),COALESCE(issuing_agency,''),COALESCE(public_text,''),COALESCE(case_details,''),COALESCE(legal_rights,''),has_document,requires_signature,COALESCE(token_name,''),COALESCE(delivery_method,'')
FROM staged_notices WHERE transaction_id=$1
`, transactionID).Scan(&n.NoticeType, &n.CaseNumber, &n.IssuingAgency, &n.PublicText, &n.CaseDetails, &n.LegalRights,
		&n.HasDocument, &n.RequiresSignature, &n.TokenName, &n.DeliveryMethod)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}

	files, err := s.getFiles(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	rec.Files = files

	var ipfs StagedIPFS
	err = s.DB.QueryRow(ctx, `
SELECT COALESCE(ipfs_hash,''),COALESCE(encrypted_ipfs,''),COALESCE(encryption_key,''),COALESCE(metadata_uri,'')
FROM staged_ipfs WHERE transaction_id=$1
`, transactionID).Scan(&ipfs.IPFSHash, &ipfs.EncryptedIPFS, &ipfs.EncryptionKey, &ipfs.MetadataURI)
	if err == nil {
		rec.IPFS = &ipfs
	} else if !errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}

	recipients, err := s.getRecipients(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	rec.Recipients = recipients

	var est StagedEnergyEstimate
	err = s.DB.QueryRow(ctx, `
SELECT estimated_energy,burning_cost_trx,rental_cost_trx,savings_trx
FROM staged_energy_estimates WHERE transaction_id=$1
`, transactionID).Scan(&est.EstimatedEnergy, &est.BurningCostTRX, &est.RentalCostTRX, &est.SavingsTRX)
	if err == nil {
		rec.Estimate = &est
	} else if !errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}

	return &rec, nil
}

func (s *Store) getFiles(ctx context.Context, transactionID string) (*StagedFiles, error) {
	var f StagedFiles
	err := s.DB.QueryRow(ctx, `
SELECT COALESCE(thumbnail_name,''),COALESCE(document_name,''),COALESCE(encrypted_document_name,'')
FROM staged_files WHERE transaction_id=$1
`, transactionID).Scan(&f.ThumbnailName, &f.DocumentName, &f.EncryptedDocumentName)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &f, nil
}

func (s *Store) getRecipients(ctx context.Context, transactionID string) ([]StagedRecipient, error) {
	rows, err := s.DB.Query(ctx, `
SELECT recipient_address,notice_id,recipient_index,status,alert_id,document_id
FROM staged_recipients WHERE transaction_id=$1 ORDER BY recipient_index ASC
`, transactionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []StagedRecipient
	for rows.Next() {
		var r StagedRecipient
		if err := rows.Scan(&r.RecipientAddress, &r.NoticeID, &r.RecipientIndex, &r.Status, &r.AlertID, &r.DocumentID); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Execute performs the permanent commit for a staged transaction in one
// database transaction. The parent row is locked with FOR UPDATE so two
// concurrent executes for the same id serialize: the loser of the race sees
// status='executed' and gets ErrNotFound. Returns the staged filenames so
// the caller can promote them out of the staging namespace afterwards;
// file durability is best-effort relative to the authoritative DB record.
func (s *Store) Execute(ctx context.Context, transactionID string, ev ExecutionEvidence) (*ExecutionResult, []string, error) {
	tx, err := s.DB.Begin(ctx)
	if err != nil {
		return nil, nil, err
	}
	defer tx.Rollback(ctx)

	var serverAddress, network string
	err = tx.QueryRow(ctx, `
SELECT server_address, network
FROM staged_transactions
WHERE transaction_id=$1 AND status='staged' AND expires_at > now()
FOR UPDATE
`, transactionID).Scan(&serverAddress, &network)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil, ErrNotFound
		}
		return nil, nil, err
	}

	var notice StagedNotice
	err = tx.QueryRow(ctx, `
SELECT COALESCE(notice_type,''),COALESCE(case_number,''),COALESCE(issuing_agency,''),has_document
FROM staged_notices WHERE transaction_id=$1
`, transactionID).Scan(&notice.NoticeType, &notice.CaseNumber, &notice.IssuingAgency, &notice.HasDocument)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return nil, nil, err
	}

	var files StagedFiles
	err = tx.QueryRow(ctx, `
SELECT COALESCE(thumbnail_name,''),COALESCE(document_name,''),COALESCE(encrypted_document_name,'')
FROM staged_files WHERE transaction_id=$1
`, transactionID).Scan(&files.ThumbnailName, &files.DocumentName, &files.EncryptedDocumentName)
	hasFiles := err == nil && !files.Empty()
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return nil, nil, err
	}

	rows, err := tx.Query(ctx, `
SELECT recipient_address,notice_id,recipient_index
FROM staged_recipients WHERE transaction_id=$1 ORDER BY recipient_index ASC
`, transactionID)
	if err != nil {
		return nil, nil, err
	}
	var recipients []StagedRecipient
	for rows.Next() {
		var r StagedRecipient
		if err := rows.Scan(&r.RecipientAddress, &r.NoticeID, &r.RecipientIndex); err != nil {
			rows.Close()
			return nil, nil, err
		}
		recipients = append(recipients, r)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}

	result := ExecutionResult{
		TransactionID:    transactionID,
		BlockchainTxHash: ev.BlockchainTxHash,
	}
	for _, r := range recipients {
		alertID, documentID := resolveRecipientIDs(ev, r)

		// Keyed by notice_id: re-executing after a partial failure updates
		// tx_hash rather than duplicating the permanent record.
		if _, err := tx.Exec(ctx, `
INSERT INTO served_notices(notice_id,batch_id,server_address,recipient_address,notice_type,case_number,issuing_agency,has_document,alert_id,document_id,tx_hash)
VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
ON CONFLICT (notice_id) DO UPDATE SET tx_hash=EXCLUDED.tx_hash, alert_id=EXCLUDED.alert_id, document_id=EXCLUDED.document_id, updated_at=now()
`, r.NoticeID, transactionID, serverAddress, r.RecipientAddress, notice.NoticeType, notice.CaseNumber, notice.IssuingAgency,
			notice.HasDocument, alertID, documentID, ev.BlockchainTxHash); err != nil {
			return nil, nil, err
		}

		if _, err := tx.Exec(ctx, `
UPDATE staged_recipients SET status='executed', alert_id=$1, document_id=$2
WHERE transaction_id=$3 AND recipient_index=$4
`, alertID, documentID, transactionID, r.RecipientIndex); err != nil {
			return nil, nil, err
		}

		if hasFiles {
			if _, err := tx.Exec(ctx, `
INSERT INTO notice_components(notice_id,chain_type,batch_id,server_address,recipient_address,notice_type,case_number,thumbnail_url,document_url,encrypted_document_url,alert_id,document_id,tx_hash)
VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
ON CONFLICT (notice_id,chain_type) DO UPDATE SET
  thumbnail_url=EXCLUDED.thumbnail_url,
  document_url=EXCLUDED.document_url,
  encrypted_document_url=EXCLUDED.encrypted_document_url,
  alert_id=EXCLUDED.alert_id,
  document_id=EXCLUDED.document_id,
  tx_hash=EXCLUDED.tx_hash,
  updated_at=now()
`, r.NoticeID, network, transactionID, serverAddress, r.RecipientAddress, notice.NoticeType, notice.CaseNumber,
				documentURL(files.ThumbnailName), documentURL(files.DocumentName), documentURL(files.EncryptedDocumentName),
				alertID, documentID, ev.BlockchainTxHash); err != nil {
				return nil, nil, err
			}
		}

		result.Recipients = append(result.Recipients, ExecutedRecipient{
			Address:    r.RecipientAddress,
			NoticeID:   r.NoticeID,
			AlertID:    alertID,
			DocumentID: documentID,
		})
	}

	if _, err := tx.Exec(ctx, `
UPDATE staged_transactions
SET status='executed', blockchain_tx_hash=$1, energy_used=$2, executed_at=now()
WHERE transaction_id=$3
`, ev.BlockchainTxHash, ev.EnergyUsed, transactionID); err != nil {
		return nil, nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, nil, err
	}
	return &result, files.Names(), nil
}

// ExpiredStaged lists staged transactions past their expiry, with any staged
// filenames still referenced. Executed transactions are never listed.
func (s *Store) ExpiredStaged(ctx context.Context) ([]CleanedTransaction, error) {
	rows, err := s.DB.Query(ctx, `
SELECT t.transaction_id,COALESCE(f.thumbnail_name,''),COALESCE(f.document_name,''),COALESCE(f.encrypted_document_name,'')
FROM staged_transactions t
LEFT JOIN staged_files f ON f.transaction_id = t.transaction_id
WHERE t.status='staged' AND t.expires_at < now()
ORDER BY t.expires_at ASC
`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []CleanedTransaction
	for rows.Next() {
		var c CleanedTransaction
		var f StagedFiles
		if err := rows.Scan(&c.TransactionID, &f.ThumbnailName, &f.DocumentName, &f.EncryptedDocumentName); err != nil {
			return nil, err
		}
		c.StagedFileNames = f.Names()
		out = append(out, c)
	}
	return out, rows.Err()
}

// DeleteStaged removes every row for one staged transaction, children before
// the parent so referential integrity holds even mid-delete.
func (s *Store) DeleteStaged(ctx context.Context, transactionID string) error {
	tx, err := s.DB.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for _, stmt := range []string{
		`DELETE FROM staged_energy_estimates WHERE transaction_id=$1`,
		`DELETE FROM staged_recipients WHERE transaction_id=$1`,
		`DELETE FROM staged_ipfs WHERE transaction_id=$1`,
		`DELETE FROM staged_files WHERE transaction_id=$1`,
		`DELETE FROM staged_notices WHERE transaction_id=$1`,
		`DELETE FROM staged_transactions WHERE transaction_id=$1 AND status='staged'`,
	} {
		if _, err := tx.Exec(ctx, stmt, transactionID); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

func (s *Store) GetIdempotencyRecord(ctx context.Context, sessionID, key, endpoint string) (*IdempotencyRecord, error) {
	var rec IdempotencyRecord
	err := s.DB.QueryRow(ctx, `
SELECT session_id,idempotency_key,endpoint,response_status,response_body
FROM staging_idempotency_records
WHERE session_id=$1 AND idempotency_key=$2 AND endpoint=$3
`, sessionID, key, endpoint).Scan(&rec.SessionID, &rec.IdempotencyKey, &rec.Endpoint, &rec.ResponseStatus, &rec.ResponseBody)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &rec, nil
}

func (s *Store) SaveIdempotencyRecord(ctx context.Context, rec IdempotencyRecord) error {
	_, err := s.DB.Exec(ctx, `
INSERT INTO staging_idempotency_records(session_id,idempotency_key,endpoint,response_status,response_body)
VALUES($1,$2,$3,$4,$5::jsonb)
ON CONFLICT (session_id,idempotency_key,endpoint) DO NOTHING
`, rec.SessionID, rec.IdempotencyKey, rec.Endpoint, rec.ResponseStatus, string(rec.ResponseBody))
	return err
}

func (s *Store) RecordAuditEvent(ctx context.Context, transactionID, eventType string, payload map[string]any) error {
	b, _ := json.Marshal(payload)
	_, err := s.DB.Exec(ctx, `
INSERT INTO staging_audit_events(transaction_id,event_type,payload)
VALUES($1,$2,$3::jsonb)
`, nullable(transactionID), eventType, string(b))
	return err
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func documentURL(name string) any {
	if name == "" {
		return nil
	}
	return filestore.DocumentURL(name)
}
