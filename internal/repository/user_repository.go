package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/makerlink/print3d-backend/internal/models"
)

const userColumns = `
	id, email, display_name, password_hash, role, country, is_active, last_login_at,
	balance_available, balance_pending, balance_total,
	bank_name, iban_last4, account_holder, gateway_account_id,
	business_status, siret, yearly_revenue, yearly_transaction_count, revenue_year,
	account_blocked, block_reason, created_at, updated_at
`

type UserRepository struct {
	db *sqlx.DB
}

func NewUserRepository(db *sqlx.DB) *UserRepository {
	return &UserRepository{db: db}
}

// Create сохраняет нового пользователя.
func (r *UserRepository) Create(ctx context.Context, user *models.User) error {
	query := `
		INSERT INTO users (email, display_name, password_hash, role, country, business_status)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at, updated_at
	`
	if err := r.db.QueryRowxContext(ctx, query,
		user.Email, user.DisplayName, user.PasswordHash, user.Role, user.Country, user.BusinessStatus,
	).Scan(&user.ID, &user.CreatedAt, &user.UpdatedAt); err != nil {
		return fmt.Errorf("user repository: create %w", err)
	}
	return nil
}

// GetByID возвращает пользователя по идентификатору.
func (r *UserRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	var user models.User
	if err := r.db.GetContext(ctx, &user, `SELECT `+userColumns+` FROM users WHERE id = $1`, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("user repository: get by id %w", err)
	}
	return &user, nil
}

// GetByEmail возвращает пользователя по email.
func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	var user models.User
	if err := r.db.GetContext(ctx, &user, `SELECT `+userColumns+` FROM users WHERE email = lower($1)`, email); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("user repository: get by email %w", err)
	}
	return &user, nil
}

// UpdateLastLoginAt обновляет время последнего входа.
func (r *UserRepository) UpdateLastLoginAt(ctx context.Context, userID uuid.UUID) error {
	_, err := r.db.ExecContext(ctx, `UPDATE users SET last_login_at = NOW() WHERE id = $1`, userID)
	return err
}

// UpdateBankDetails сохраняет банковские реквизиты продавца.
func (r *UserRepository) UpdateBankDetails(ctx context.Context, userID uuid.UUID, details models.BankDetails) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE users SET bank_name = $2, iban_last4 = $3, account_holder = $4, updated_at = NOW()
		WHERE id = $1
	`, userID, details.BankName, details.IBANLast4, details.AccountHolder)
	if err != nil {
		return fmt.Errorf("user repository: update bank details %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrUserNotFound
	}
	return nil
}

// SetGatewayAccountID привязывает счёт во внешнем шлюзе (только один раз).
func (r *UserRepository) SetGatewayAccountID(ctx context.Context, userID uuid.UUID, accountID string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE users SET gateway_account_id = $2, updated_at = NOW()
		WHERE id = $1 AND gateway_account_id IS NULL
	`, userID, accountID)
	return err
}

// UpgradeBusinessStatus переводит продавца в зарегистрированный статус и
// снимает блокировку. Единственный путь разблокировки замороженного аккаунта.
func (r *UserRepository) UpgradeBusinessStatus(ctx context.Context, userID uuid.UUID, siret, businessStatus string) (*models.User, error) {
	var user models.User
	err := r.db.GetContext(ctx, &user, `
		UPDATE users
		SET business_status = $2, siret = $3,
		    account_blocked = FALSE, block_reason = NULL, updated_at = NOW()
		WHERE id = $1
		RETURNING `+userColumns+`
	`, userID, businessStatus, siret)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("user repository: upgrade business status %w", err)
	}
	return &user, nil
}

// ListAtRisk возвращает продавцов-particulier, использовавших долю потолка
// выручки или числа сделок не ниже threshold.
func (r *UserRepository) ListAtRisk(ctx context.Context, threshold float64) ([]models.User, error) {
	var users []models.User
	err := r.db.SelectContext(ctx, &users, `
		SELECT `+userColumns+` FROM users
		WHERE business_status = $1
		  AND revenue_year = EXTRACT(YEAR FROM NOW())::int
		  AND (yearly_revenue >= $2 * $3 OR yearly_transaction_count >= $2 * $4)
		ORDER BY yearly_revenue DESC
	`, models.BusinessStatusParticulier, threshold,
		models.MaxAnnualRevenueParticulier, models.MaxAnnualTransactionsParticulier)
	if err != nil {
		return nil, fmt.Errorf("user repository: list at risk %w", err)
	}
	return users, nil
}

// CheckCompliance атомарно проверяет потолки продавца для транзакции amount.
// Само решение принимает модель (User.DecideTransaction); репозиторий берёт
// блокировку строки и персистит побочные эффекты — сброс счётчиков на новый
// год и заморозку. Две конкурентные авторизации не пройдут обе, когда потолка
// хватает только на одну.
func (r *UserRepository) CheckCompliance(ctx context.Context, printerID uuid.UUID, amount float64, now time.Time) (*models.ComplianceDecision, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var user models.User
	err = tx.GetContext(ctx, &user, `SELECT `+userColumns+` FROM users WHERE id = $1 FOR UPDATE`, printerID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("user repository: compliance lock %w", err)
	}

	if err := persistRolloverIfNewYear(ctx, tx, &user, now); err != nil {
		return nil, err
	}

	decision := user.DecideTransaction(amount)
	if decision.Frozen {
		if _, err := tx.ExecContext(ctx, `
			UPDATE users SET account_blocked = TRUE, block_reason = $2, updated_at = NOW()
			WHERE id = $1
		`, printerID, decision.BlockReason); err != nil {
			return nil, fmt.Errorf("user repository: freeze account %w", err)
		}
	}

	return &decision, tx.Commit()
}

// persistRolloverIfNewYear применяет User.RolloverIfNewYear и записывает
// сброс счётчиков. Единственная точка сброса: вызывается в начале каждого
// проверяющего и инкрементирующего пути, под уже взятой блокировкой строки.
func persistRolloverIfNewYear(ctx context.Context, tx *sqlx.Tx, user *models.User, now time.Time) error {
	if !user.RolloverIfNewYear(now) {
		return nil
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE users SET yearly_revenue = 0, yearly_transaction_count = 0, revenue_year = $2, updated_at = NOW()
		WHERE id = $1
	`, user.ID, user.RevenueYear); err != nil {
		return fmt.Errorf("user repository: rollover year %w", err)
	}
	return nil
}

// recordSettledSale инкрементирует комплаенс-счётчики внутри транзакции,
// завершающей сделку. Счётчики отражают завершённые сделки, не авторизации.
func recordSettledSale(ctx context.Context, tx *sqlx.Tx, printerID uuid.UUID, amount float64, now time.Time) error {
	var user models.User
	if err := tx.GetContext(ctx, &user, `SELECT `+userColumns+` FROM users WHERE id = $1 FOR UPDATE`, printerID); err != nil {
		return fmt.Errorf("user repository: settled sale lock %w", err)
	}
	if err := persistRolloverIfNewYear(ctx, tx, &user, now); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE users
		SET yearly_revenue = yearly_revenue + $2,
		    yearly_transaction_count = yearly_transaction_count + 1,
		    updated_at = NOW()
		WHERE id = $1
	`, printerID, amount); err != nil {
		return fmt.Errorf("user repository: record settled sale %w", err)
	}
	return nil
}
