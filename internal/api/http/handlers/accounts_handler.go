package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/account-service/internal/api/dto"
	"github.com/spec-kit/account-service/internal/auth"
	"github.com/spec-kit/account-service/internal/domain"
	"github.com/spec-kit/account-service/internal/service"
)

// AccountsHandler exposes account read/update endpoints.
type AccountsHandler struct {
	accounts *service.AccountService
}

// NewAccountsHandler constructs handler.
func NewAccountsHandler(accountService *service.AccountService) *AccountsHandler {
	return &AccountsHandler{accounts: accountService}
}

// GetMe handles GET /users/me.
func (h *AccountsHandler) GetMe(c *fiber.Ctx) error {
	identity, ok := auth.IdentityFromContext(c)
	if !ok {
		return fiber.NewError(http.StatusUnauthorized, http.StatusText(http.StatusUnauthorized))
	}

	account, err := h.accounts.GetSelf(c.UserContext(), identity.UserID)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewAccountResponse(*account)})
}

// List handles GET /users.
func (h *AccountsHandler) List(c *fiber.Ctx) error {
	params := service.ListParams{
		Search: c.Query("search"),
		Sort:   c.Query("sort"),
		Page:   queryInt(c, "page", 1),
		Limit:  queryInt(c, "limit", 0),
	}
	var fields []string
	if raw := c.Query("fields"); raw != "" {
		fields = strings.Split(raw, ",")
	}
	if v, ok := queryBool(c, "is_verified"); ok {
		params.IsVerified = &v
	}
	if v, ok := queryBool(c, "is_deleted"); ok {
		params.IsDeleted = &v
	}

	accounts, meta, err := h.accounts.List(c.UserContext(), params)
	if err != nil {
		return err
	}

	data := make([]map[string]any, 0, len(accounts))
	for _, account := range accounts {
		data = append(data, dto.ProjectAccount(account, fields))
	}
	return c.JSON(fiber.Map{"data": data, "meta": meta})
}

// GetByID handles GET /users/:id.
func (h *AccountsHandler) GetByID(c *fiber.Ctx) error {
	account, err := h.accounts.GetByID(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewAccountResponse(*account)})
}

// UpdateProfile handles PATCH /users/:id.
func (h *AccountsHandler) UpdateProfile(c *fiber.Ctx) error {
	var fields map[string]any
	if err := c.BodyParser(&fields); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid payload")
	}
	if len(fields) == 0 {
		return fiber.NewError(http.StatusBadRequest, "no fields provided")
	}

	account, err := h.accounts.UpdateProfile(c.UserContext(), c.Params("id"), fields)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewAccountResponse(*account)})
}

// ChangeLanguage handles PATCH /users/me/language.
func (h *AccountsHandler) ChangeLanguage(c *fiber.Ctx) error {
	identity, ok := auth.IdentityFromContext(c)
	if !ok {
		return fiber.NewError(http.StatusUnauthorized, http.StatusText(http.StatusUnauthorized))
	}

	var req dto.ChangeLanguageRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid payload")
	}
	if req.Language == "" {
		return fiber.NewError(http.StatusBadRequest, "language required")
	}

	account, err := h.accounts.ChangeLanguage(c.UserContext(), identity.UserID, req.Language)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewAccountResponse(*account)})
}

// ChangeTheme handles PATCH /users/me/theme.
func (h *AccountsHandler) ChangeTheme(c *fiber.Ctx) error {
	identity, ok := auth.IdentityFromContext(c)
	if !ok {
		return fiber.NewError(http.StatusUnauthorized, http.StatusText(http.StatusUnauthorized))
	}

	var req dto.ChangeThemeRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid payload")
	}
	if req.Theme == "" {
		return fiber.NewError(http.StatusBadRequest, "theme required")
	}

	account, err := h.accounts.ChangeTheme(c.UserContext(), identity.UserID, domain.Theme(req.Theme))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewAccountResponse(*account)})
}

// UploadImage handles POST /users/me/image.
func (h *AccountsHandler) UploadImage(c *fiber.Ctx) error {
	identity, ok := auth.IdentityFromContext(c)
	if !ok {
		return fiber.NewError(http.StatusUnauthorized, http.StatusText(http.StatusUnauthorized))
	}

	var upload *service.FileUpload
	if fileHeader, err := c.FormFile("image"); err == nil && fileHeader != nil {
		file, err := fileHeader.Open()
		if err != nil {
			return fiber.NewError(http.StatusBadRequest, "unable to read image")
		}
		defer file.Close()
		upload = &service.FileUpload{
			Filename:    fileHeader.Filename,
			ContentType: fileHeader.Header.Get("Content-Type"),
			Content:     file,
		}
	}

	account, err := h.accounts.UploadProfileImage(c.UserContext(), identity.UserID, upload)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewAccountResponse(*account)})
}

// DeductTokens handles POST /users/me/tokens/deduct.
func (h *AccountsHandler) DeductTokens(c *fiber.Ctx) error {
	identity, ok := auth.IdentityFromContext(c)
	if !ok {
		return fiber.NewError(http.StatusUnauthorized, http.StatusText(http.StatusUnauthorized))
	}

	var req dto.DeductTokensRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid payload")
	}
	if req.Amount <= 0 {
		return fiber.NewError(http.StatusBadRequest, "amount must be positive")
	}

	account, err := h.accounts.DeductTokens(c.UserContext(), identity.UserID, req.Amount)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewAccountResponse(*account)})
}

// ToggleDeleted handles PATCH /users/:id/deleted.
func (h *AccountsHandler) ToggleDeleted(c *fiber.Ctx) error {
	var req dto.ToggleDeletedRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid payload")
	}
	if req.Deleted == nil {
		return fiber.NewError(http.StatusBadRequest, "deleted flag required")
	}

	account, err := h.accounts.ToggleDeleted(c.UserContext(), c.Params("id"), *req.Deleted)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewAccountResponse(*account)})
}

func queryInt(c *fiber.Ctx, key string, fallback int) int {
	val := c.Query(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(val)
	if err != nil {
		return fallback
	}
	return parsed
}

func queryBool(c *fiber.Ctx, key string) (bool, bool) {
	val := c.Query(key)
	if val == "" {
		return false, false
	}
	parsed, err := strconv.ParseBool(val)
	if err != nil {
		return false, false
	}
	return parsed, true
}
