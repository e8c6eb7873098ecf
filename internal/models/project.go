package models

import (
	"time"

	"github.com/google/uuid"
)

// Статусы проектов.
const (
	ProjectStatusOpen      = "open"
	ProjectStatusClosed    = "closed"
	ProjectStatusCancelled = "cancelled"
)

// Project описывает заявку клиента на 3D-печать.
type Project struct {
	ID          uuid.UUID `db:"id" json:"id"`
	ClientID    uuid.UUID `db:"client_id" json:"client_id"`
	Title       string    `db:"title" json:"title"`
	Description string    `db:"description" json:"description"`

	// Файл модели хранится во внешнем хранилище: в ядре только URL и размер.
	ModelFileURL  *string `db:"model_file_url" json:"model_file_url,omitempty"`
	ModelFileSize *int64  `db:"model_file_size" json:"model_file_size,omitempty"`

	Quantity int     `db:"quantity" json:"quantity"`
	Material *string `db:"material" json:"material,omitempty"`

	Status string `db:"status" json:"status"`
	// PrinterFound выставляется клиентом: проект закрыт для новых предложений.
	PrinterFound bool `db:"printer_found" json:"printer_found"`
	// RefusedPrinters — печатники, от которых клиент отказался; повторно не приглашаются.
	RefusedPrinters UUIDList `db:"refused_printers" json:"refused_printers,omitempty"`

	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// HasRefused проверяет, отказался ли клиент от данного печатника.
func (p *Project) HasRefused(printerID uuid.UUID) bool {
	for _, id := range p.RefusedPrinters {
		if id == printerID {
			return true
		}
	}
	return false
}
