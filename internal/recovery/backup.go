package recovery

import (
	"archive/zip"
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/lavente/identitycore/internal/cryptoutil"
)

// ErrInvalidBackupPassword is returned by Import when the archive carries
// an encrypted sensitive blob and the supplied password fails to decrypt
// it — distinguishable from any other restore failure (spec.md §4.7.5).
var ErrInvalidBackupPassword = errors.New("recovery: invalid backup password")

// tables lists every table this core owns, in dependency order: a
// principal must exist before anything that references it, and sessions
// before the refresh tokens that reference them.
var tables = []string{
	"principals",
	"email_bindings",
	"auth_identities",
	"backup_codes",
	"sessions",
	"refresh_tokens",
	"reset_tokens",
	"security_events",
}

// sensitiveColumns names the one column per table that Export pulls out
// of data/<table>.json and into the encrypted sensitive blob, when asked
// to. Each entry also always carries the table's primary key so Import
// can find the row to patch.
var sensitiveColumns = map[string]struct {
	pk     string
	column string
}{
	"principals":      {"id", "mfa_secret_encrypted"},
	"auth_identities": {"id", "password_hash"},
	"backup_codes":    {"id", "code_hash"},
	"refresh_tokens":  {"id", "token_hash"},
	"reset_tokens":    {"token_hash", "token_hash"},
}

type manifest struct {
	Version          string                  `json:"version"`
	CreatedAt        string                  `json:"created_at"`
	IncludeSensitive bool                    `json:"include_sensitive"`
	Tables           map[string]tableSummary `json:"tables"`
	Encryption       *encryptionParams       `json:"encryption"`
}

type tableSummary struct {
	Count int `json:"count"`
}

type encryptionParams struct {
	Algorithm string `json:"algorithm"`
	KDF       string `json:"kdf"`
	Salt      string `json:"salt"`
	Nonce     string `json:"nonce"`
}

// Export dumps every identity-core table into a zip archive (spec.md
// §4.7.5, wire format in spec.md's "Backup archive format"). When
// includeSensitive is true and password is non-empty, the one sensitive
// column per table (password hashes, encrypted TOTP secrets, token
// hashes) is pulled out of the plain data/<table>.json dump and sealed
// into data/sensitive.json.enc under a key derived from password via
// PBKDF2-HMAC-SHA256.
func (s *Service) Export(ctx context.Context, includeSensitive bool, password string) ([]byte, error) {
	rows := make(map[string][]map[string]any, len(tables))
	for _, table := range tables {
		r, err := s.dumpTable(ctx, table)
		if err != nil {
			return nil, fmt.Errorf("recovery: dump %s: %w", table, err)
		}
		rows[table] = r
	}

	var sensitive map[string][]map[string]any
	if includeSensitive && password != "" {
		sensitive = make(map[string][]map[string]any, len(sensitiveColumns))
		for table, sc := range sensitiveColumns {
			var extracted []map[string]any
			for _, row := range rows[table] {
				entry := map[string]any{sc.pk: row[sc.pk]}
				if v, ok := row[sc.column]; ok {
					entry[sc.column] = v
					delete(row, sc.column)
				}
				extracted = append(extracted, entry)
			}
			sensitive[table] = extracted
		}
	}

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)

	man := manifest{
		Version:          "1.0",
		CreatedAt:        time.Now().UTC().Format(time.RFC3339),
		IncludeSensitive: sensitive != nil,
		Tables:           map[string]tableSummary{},
	}

	for table, r := range rows {
		man.Tables[table] = tableSummary{Count: len(r)}
		if err := writeJSONEntry(zw, fmt.Sprintf("data/%s.json", table), r); err != nil {
			return nil, err
		}
	}

	if sensitive != nil {
		salt := make([]byte, 32)
		if _, err := rand.Read(salt); err != nil {
			return nil, fmt.Errorf("recovery: generate salt: %w", err)
		}
		key := cryptoutil.DeriveKey(password, salt, cryptoutil.DefaultKDFIterations)

		plain, err := json.Marshal(sensitive)
		if err != nil {
			return nil, fmt.Errorf("recovery: marshal sensitive blob: %w", err)
		}
		sealedHex, err := cryptoutil.EncryptSecret(plain, key)
		if err != nil {
			return nil, fmt.Errorf("recovery: encrypt sensitive blob: %w", err)
		}
		sealed, err := hex.DecodeString(sealedHex)
		if err != nil {
			return nil, err
		}
		nonceSize := 12
		if len(sealed) < nonceSize {
			return nil, fmt.Errorf("recovery: sealed blob too short")
		}

		w, err := zw.Create("data/sensitive.json.enc")
		if err != nil {
			return nil, err
		}
		if _, err := w.Write(sealed); err != nil {
			return nil, err
		}

		man.Encryption = &encryptionParams{
			Algorithm: "AES-256-GCM",
			KDF:       "PBKDF2-HMAC-SHA256",
			Salt:      hex.EncodeToString(salt),
			Nonce:     hex.EncodeToString(sealed[:nonceSize]),
		}
	}

	if err := writeJSONEntry(zw, "manifest.json", man); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("recovery: close archive: %w", err)
	}
	return buf.Bytes(), nil
}

// Import restores every table from a backup archive produced by Export.
// Rows are inserted with ON CONFLICT DO NOTHING in dependency order
// (spec.md §4.7.5); unlike the teacher's serial-sequence schema, every
// table here is keyed by a UUID default, so there is no sequence to
// reset afterward.
func (s *Service) Import(ctx context.Context, archive []byte, password string) error {
	zr, err := zip.NewReader(bytes.NewReader(archive), int64(len(archive)))
	if err != nil {
		return fmt.Errorf("recovery: open archive: %w", err)
	}

	var man manifest
	if err := readJSONEntry(zr, "manifest.json", &man); err != nil {
		return fmt.Errorf("recovery: read manifest: %w", err)
	}

	var sensitive map[string][]map[string]any
	if man.Encryption != nil {
		if password == "" {
			return ErrInvalidBackupPassword
		}
		salt, err := hex.DecodeString(man.Encryption.Salt)
		if err != nil {
			return fmt.Errorf("recovery: decode salt: %w", err)
		}
		f, err := zr.Open("data/sensitive.json.enc")
		if err != nil {
			return fmt.Errorf("recovery: open sensitive blob: %w", err)
		}
		sealed, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			return err
		}

		key := cryptoutil.DeriveKey(password, salt, cryptoutil.DefaultKDFIterations)
		plain, err := cryptoutil.DecryptSecret(hex.EncodeToString(sealed), key)
		if err != nil {
			return ErrInvalidBackupPassword
		}
		if err := json.Unmarshal(plain, &sensitive); err != nil {
			return fmt.Errorf("recovery: unmarshal sensitive blob: %w", err)
		}
	}

	for _, table := range tables {
		var rows []map[string]any
		if err := readJSONEntry(zr, fmt.Sprintf("data/%s.json", table), &rows); err != nil {
			if errors.Is(err, errEntryNotFound) {
				continue
			}
			return fmt.Errorf("recovery: read %s: %w", table, err)
		}

		if sc, ok := sensitiveColumns[table]; ok && sensitive != nil {
			patchSensitive(rows, sc.pk, sc.column, sensitive[table])
		}

		if err := s.insertTable(ctx, table, rows); err != nil {
			return fmt.Errorf("recovery: restore %s: %w", table, err)
		}
	}
	return nil
}

func patchSensitive(rows []map[string]any, pkField, column string, extracted []map[string]any) {
	byPK := make(map[any]map[string]any, len(extracted))
	for _, e := range extracted {
		byPK[fmt.Sprint(e[pkField])] = e
	}
	for _, row := range rows {
		if e, ok := byPK[fmt.Sprint(row[pkField])]; ok {
			if v, ok := e[column]; ok {
				row[column] = v
			}
		}
	}
}

// dumpTable reads every row of table as a generic column-name → value
// map, so Export doesn't need a hand-written struct per table.
func (s *Service) dumpTable(ctx context.Context, table string) ([]map[string]any, error) {
	rows, err := s.pool.Query(ctx, fmt.Sprintf("SELECT * FROM %s", table))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []map[string]any
	fields := rows.FieldDescriptions()
	for rows.Next() {
		vals, err := rows.Values()
		if err != nil {
			return nil, err
		}
		row := make(map[string]any, len(fields))
		for i, f := range fields {
			row[string(f.Name)] = vals[i]
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// insertTable inserts each row with ON CONFLICT DO NOTHING, one row per
// statement — restore is not a hot path, so simplicity wins over a bulk
// COPY.
func (s *Service) insertTable(ctx context.Context, table string, rows []map[string]any) error {
	for _, row := range rows {
		if len(row) == 0 {
			continue
		}
		cols := make([]string, 0, len(row))
		placeholders := make([]string, 0, len(row))
		args := make([]any, 0, len(row))
		i := 1
		for col, val := range row {
			cols = append(cols, col)
			placeholders = append(placeholders, fmt.Sprintf("$%d", i))
			args = append(args, val)
			i++
		}

		query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) ON CONFLICT DO NOTHING",
			table, joinIdents(cols), joinIdents(placeholders))
		if _, err := s.pool.Exec(ctx, query, args...); err != nil {
			return err
		}
	}
	return nil
}

func joinIdents(parts []string) string {
	var b bytes.Buffer
	for i, p := range parts {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(p)
	}
	return b.String()
}

var errEntryNotFound = errors.New("recovery: archive entry not found")

func writeJSONEntry(zw *zip.Writer, name string, v any) error {
	w, err := zw.Create(name)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(w)
	return enc.Encode(v)
}

func readJSONEntry(zr *zip.Reader, name string, v any) error {
	f, err := zr.Open(name)
	if err != nil {
		return errEntryNotFound
	}
	defer f.Close()
	return json.NewDecoder(f).Decode(v)
}
