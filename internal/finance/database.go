package finance

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.etcd.io/bbolt"
)

const (
	householdsBucket   = "households"
	usersBucket        = "users"
	usernamesBucket    = "usernames"
	transactionsBucket = "transactions"
	invoicesBucket     = "invoices"
	invoiceKeysBucket  = "invoice_keys"
	sessionsBucket     = "impersonations"
	auditBucket        = "audit"
)

var allBuckets = []string{
	householdsBucket,
	usersBucket,
	usernamesBucket,
	transactionsBucket,
	invoicesBucket,
	invoiceKeysBucket,
	sessionsBucket,
	auditBucket,
}

// DB defines the interface for database operations
type DB interface {
	SaveHousehold(h *Household) error
	GetHousehold(id string) (*Household, error)
	ListHouseholds() ([]*Household, error)

	// CreateUser stores a new user, failing with ErrUsernameTaken on a clash
	CreateUser(u *User) error
	// SaveUser updates an existing user. It fails with ErrLastAdmin when the
	// update would leave no active admin.
	SaveUser(u *User) error
	GetUser(id string) (*User, error)
	GetUserByUsername(username string) (*User, error)
	ListUsers() ([]*User, error)
	// DeleteUser removes a user, failing with ErrLastAdmin for the last active admin
	DeleteUser(id string) error

	SaveTransaction(t *Transaction) error
	GetTransaction(id string) (*Transaction, error)
	// ListTransactions returns the transactions of a household, or of every
	// household when householdID is empty
	ListTransactions(householdID string) ([]*Transaction, error)
	// DeleteTransaction removes a transaction and detaches it from its invoice
	DeleteTransaction(id string) error

	// SaveInvoice stores an invoice and its transactions in one write
	// transaction, failing with ErrDuplicateInvoice when the household already
	// has an invoice from the same bank with the same due date
	SaveInvoice(rec *InvoiceRecord, txns []*Transaction) error
	GetInvoice(id string) (*InvoiceRecord, error)
	ListInvoices(householdID string) ([]*InvoiceRecord, error)
	// DeleteInvoice removes an invoice together with its transactions
	DeleteInvoice(id string) error

	SaveSession(s *ImpersonationSession) error
	GetSession(token string) (*ImpersonationSession, error)
	ListSessions() ([]*ImpersonationSession, error)

	AppendAudit(e *AuditEvent) error
	// ListAudit returns up to limit events, newest first. limit <= 0 returns all.
	ListAudit(limit int) ([]*AuditEvent, error)

	Close() error
}

// BoltDB implements the DB interface using BoltDB
type BoltDB struct {
	db *bbolt.DB
}

// NewBoltDB creates a new BoltDB instance
func NewBoltDB(path string) (*BoltDB, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening boltdb: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range allBuckets {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return fmt.Errorf("bucket %s: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating buckets: %w", err)
	}

	return &BoltDB{db: db}, nil
}

func put(tx *bbolt.Tx, bucket, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshaling %s: %w", bucket, err)
	}
	return tx.Bucket([]byte(bucket)).Put([]byte(key), data)
}

func get[T any](tx *bbolt.Tx, bucket, key string) (*T, error) {
	data := tx.Bucket([]byte(bucket)).Get([]byte(key))
	if data == nil {
		return nil, fmt.Errorf("%w: %s %s", ErrNotFound, bucket, key)
	}
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("unmarshaling %s: %w", bucket, err)
	}
	return &v, nil
}

func list[T any](tx *bbolt.Tx, bucket string, keep func(*T) bool) ([]*T, error) {
	items := make([]*T, 0)
	err := tx.Bucket([]byte(bucket)).ForEach(func(k, v []byte) error {
		var item T
		if err := json.Unmarshal(v, &item); err != nil {
			return fmt.Errorf("unmarshaling %s: %w", bucket, err)
		}
		if keep == nil || keep(&item) {
			items = append(items, &item)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return items, nil
}

func usernameKey(username string) []byte {
	return []byte(strings.ToLower(strings.TrimSpace(username)))
}

func invoiceKey(rec *InvoiceRecord) []byte {
	return []byte(rec.HouseholdID + "|" + rec.Bank + "|" + rec.DueDate.Format("2006-01-02"))
}

func auditKey(e *AuditEvent) []byte {
	return []byte(fmt.Sprintf("%020d-%s", e.Time.UnixNano(), e.ID))
}

// SaveHousehold saves a household to the database
func (b *BoltDB) SaveHousehold(h *Household) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		return put(tx, householdsBucket, h.ID, h)
	})
}

// GetHousehold retrieves a household by ID
func (b *BoltDB) GetHousehold(id string) (h *Household, err error) {
	err = b.db.View(func(tx *bbolt.Tx) error {
		h, err = get[Household](tx, householdsBucket, id)
		return err
	})
	return h, err
}

// ListHouseholds returns all households
func (b *BoltDB) ListHouseholds() (hs []*Household, err error) {
	err = b.db.View(func(tx *bbolt.Tx) error {
		hs, err = list[Household](tx, householdsBucket, nil)
		return err
	})
	return hs, err
}

// CreateUser saves a new user and reserves its username
func (b *BoltDB) CreateUser(u *User) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		names := tx.Bucket([]byte(usernamesBucket))
		key := usernameKey(u.Username)
		if names.Get(key) != nil {
			return fmt.Errorf("%w: %s", ErrUsernameTaken, u.Username)
		}
		if err := names.Put(key, []byte(u.ID)); err != nil {
			return err
		}
		return put(tx, usersBucket, u.ID, u)
	})
}

// SaveUser updates an existing user. Usernames cannot change.
func (b *BoltDB) SaveUser(u *User) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		existing, err := get[User](tx, usersBucket, u.ID)
		if err != nil {
			return err
		}
		if !strings.EqualFold(existing.Username, u.Username) {
			return fmt.Errorf("%w: username cannot change", ErrInvalidInput)
		}
		if existing.IsActiveAdmin() && !u.IsActiveAdmin() {
			if err := requireOtherAdmin(tx, u.ID); err != nil {
				return err
			}
		}
		return put(tx, usersBucket, u.ID, u)
	})
}

// requireOtherAdmin fails with ErrLastAdmin unless an active admin other than
// id exists. Callers run it inside the write transaction that removes id's
// admin access so concurrent writers cannot both pass.
func requireOtherAdmin(tx *bbolt.Tx, id string) error {
	admins, err := list(tx, usersBucket, func(u *User) bool {
		return u.ID != id && u.IsActiveAdmin()
	})
	if err != nil {
		return err
	}
	if len(admins) == 0 {
		return ErrLastAdmin
	}
	return nil
}

// GetUser retrieves a user by ID
func (b *BoltDB) GetUser(id string) (u *User, err error) {
	err = b.db.View(func(tx *bbolt.Tx) error {
		u, err = get[User](tx, usersBucket, id)
		return err
	})
	return u, err
}

// GetUserByUsername looks a user up through the username index
func (b *BoltDB) GetUserByUsername(username string) (u *User, err error) {
	err = b.db.View(func(tx *bbolt.Tx) error {
		id := tx.Bucket([]byte(usernamesBucket)).Get(usernameKey(username))
		if id == nil {
			return fmt.Errorf("%w: user %s", ErrNotFound, username)
		}
		u, err = get[User](tx, usersBucket, string(id))
		return err
	})
	return u, err
}

// ListUsers returns all users
func (b *BoltDB) ListUsers() (us []*User, err error) {
	err = b.db.View(func(tx *bbolt.Tx) error {
		us, err = list[User](tx, usersBucket, nil)
		return err
	})
	return us, err
}

// DeleteUser removes a user and frees its username
func (b *BoltDB) DeleteUser(id string) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		u, err := get[User](tx, usersBucket, id)
		if err != nil {
			return err
		}
		if u.IsActiveAdmin() {
			if err := requireOtherAdmin(tx, id); err != nil {
				return err
			}
		}
		if err := tx.Bucket([]byte(usernamesBucket)).Delete(usernameKey(u.Username)); err != nil {
			return err
		}
		return tx.Bucket([]byte(usersBucket)).Delete([]byte(id))
	})
}

// SaveTransaction saves a transaction to the database
func (b *BoltDB) SaveTransaction(t *Transaction) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		return put(tx, transactionsBucket, t.ID, t)
	})
}

// GetTransaction retrieves a transaction by ID
func (b *BoltDB) GetTransaction(id string) (t *Transaction, err error) {
	err = b.db.View(func(tx *bbolt.Tx) error {
		t, err = get[Transaction](tx, transactionsBucket, id)
		return err
	})
	return t, err
}

// ListTransactions returns the transactions of a household
func (b *BoltDB) ListTransactions(householdID string) (ts []*Transaction, err error) {
	err = b.db.View(func(tx *bbolt.Tx) error {
		ts, err = list(tx, transactionsBucket, func(t *Transaction) bool {
			return householdID == "" || t.HouseholdID == householdID
		})
		return err
	})
	return ts, err
}

// DeleteTransaction removes a transaction and its reference from the invoice
func (b *BoltDB) DeleteTransaction(id string) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		t, err := get[Transaction](tx, transactionsBucket, id)
		if err != nil {
			return err
		}
		if t.InvoiceID != "" {
			rec, err := get[InvoiceRecord](tx, invoicesBucket, t.InvoiceID)
			if err != nil && !errors.Is(err, ErrNotFound) {
				return err
			}
			if rec != nil {
				ids := rec.TransactionIDs[:0]
				for _, tid := range rec.TransactionIDs {
					if tid != id {
						ids = append(ids, tid)
					}
				}
				rec.TransactionIDs = ids
				if err := put(tx, invoicesBucket, rec.ID, rec); err != nil {
					return err
				}
			}
		}
		return tx.Bucket([]byte(transactionsBucket)).Delete([]byte(id))
	})
}

// SaveInvoice stores the invoice, its duplicate-detection key and its transactions
func (b *BoltDB) SaveInvoice(rec *InvoiceRecord, txns []*Transaction) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		keys := tx.Bucket([]byte(invoiceKeysBucket))
		key := invoiceKey(rec)
		if existing := keys.Get(key); existing != nil && string(existing) != rec.ID {
			return fmt.Errorf("%w: %s due %s", ErrDuplicateInvoice, rec.Bank, rec.DueDate.Format("2006-01-02"))
		}
		if err := keys.Put(key, []byte(rec.ID)); err != nil {
			return err
		}
		for _, t := range txns {
			if err := put(tx, transactionsBucket, t.ID, t); err != nil {
				return err
			}
		}
		return put(tx, invoicesBucket, rec.ID, rec)
	})
}

// GetInvoice retrieves an invoice by ID
func (b *BoltDB) GetInvoice(id string) (rec *InvoiceRecord, err error) {
	err = b.db.View(func(tx *bbolt.Tx) error {
		rec, err = get[InvoiceRecord](tx, invoicesBucket, id)
		return err
	})
	return rec, err
}

// ListInvoices returns the invoices of a household, or all when householdID is empty
func (b *BoltDB) ListInvoices(householdID string) (recs []*InvoiceRecord, err error) {
	err = b.db.View(func(tx *bbolt.Tx) error {
		recs, err = list(tx, invoicesBucket, func(r *InvoiceRecord) bool {
			return householdID == "" || r.HouseholdID == householdID
		})
		return err
	})
	return recs, err
}

// DeleteInvoice removes an invoice, its key and its transactions
func (b *BoltDB) DeleteInvoice(id string) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		rec, err := get[InvoiceRecord](tx, invoicesBucket, id)
		if err != nil {
			return err
		}
		txns := tx.Bucket([]byte(transactionsBucket))
		for _, tid := range rec.TransactionIDs {
			if err := txns.Delete([]byte(tid)); err != nil {
				return err
			}
		}
		if err := tx.Bucket([]byte(invoiceKeysBucket)).Delete(invoiceKey(rec)); err != nil {
			return err
		}
		return tx.Bucket([]byte(invoicesBucket)).Delete([]byte(id))
	})
}

// SaveSession saves an impersonation session
func (b *BoltDB) SaveSession(s *ImpersonationSession) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		return put(tx, sessionsBucket, s.Token, s)
	})
}

// GetSession retrieves an impersonation session by token
func (b *BoltDB) GetSession(token string) (s *ImpersonationSession, err error) {
	err = b.db.View(func(tx *bbolt.Tx) error {
		s, err = get[ImpersonationSession](tx, sessionsBucket, token)
		return err
	})
	return s, err
}

// ListSessions returns all impersonation sessions
func (b *BoltDB) ListSessions() (ss []*ImpersonationSession, err error) {
	err = b.db.View(func(tx *bbolt.Tx) error {
		ss, err = list[ImpersonationSession](tx, sessionsBucket, nil)
		return err
	})
	return ss, err
}

// AppendAudit records an audit event keyed by time so the log stays ordered
func (b *BoltDB) AppendAudit(e *AuditEvent) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		data, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("marshaling audit event: %w", err)
		}
		return tx.Bucket([]byte(auditBucket)).Put(auditKey(e), data)
	})
}

// ListAudit walks the audit log backwards
func (b *BoltDB) ListAudit(limit int) ([]*AuditEvent, error) {
	events := make([]*AuditEvent, 0)
	err := b.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket([]byte(auditBucket)).Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			if limit > 0 && len(events) >= limit {
				break
			}
			var e AuditEvent
			if err := json.Unmarshal(v, &e); err != nil {
				return fmt.Errorf("unmarshaling audit event: %w", err)
			}
			events = append(events, &e)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return events, nil
}

// Close closes the database connection
func (b *BoltDB) Close() error {
	return b.db.Close()
}
