package relay

import (
	"context"
	"errors"
	"strings"

	"PolyChat/models"
	"PolyChat/pkg/apperr"
	utils "PolyChat/pkg/utills"

	"gorm.io/gorm"
)

var errInvalidCredentials = apperr.New(apperr.AuthFailed, "Invalid credentials", nil)

// Register creates an account. Inputs are validated before the store is
// touched; a taken email is reported as AuthFailed.
func (r *Relay) Register(ctx context.Context, email, password, confirm string) (*models.User, error) {
	email = utils.NormalizeEmail(email)
	if err := utils.ValidateEmail(email); err != nil {
		return nil, err
	}
	if err := utils.ValidatePassword(password, &confirm); err != nil {
		return nil, err
	}

	var exists int64
	if err := r.db.WithContext(ctx).Model(&models.User{}).Where("email = ?", email).Count(&exists).Error; err != nil {
		return nil, apperr.StoreErr("failed to check email", err)
	}
	if exists > 0 {
		return nil, apperr.New(apperr.AuthFailed, "Email already registered", apperr.ErrConflict)
	}

	user := models.User{Email: email}
	if err := user.SetPassword(password); err != nil {
		return nil, apperr.StoreErr("failed to set password", err)
	}
	if err := r.db.WithContext(ctx).Create(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) || strings.Contains(strings.ToLower(err.Error()), "unique") {
			return nil, apperr.New(apperr.AuthFailed, "Email already registered", apperr.ErrConflict)
		}
		return nil, apperr.StoreErr("failed to create user", err)
	}
	return &user, nil
}

// Authenticate checks credentials. Unknown email and wrong password are
// indistinguishable to the caller.
func (r *Relay) Authenticate(ctx context.Context, email, password string) (*models.User, error) {
	email = utils.NormalizeEmail(email)
	if email == "" || password == "" {
		return nil, apperr.Validationf("Email and password are required")
	}
	var user models.User
	err := r.db.WithContext(ctx).Where("email = ?", email).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errInvalidCredentials
	}
	if err != nil {
		return nil, apperr.StoreErr("failed to load user", err)
	}
	if !user.CheckPassword(password) {
		return nil, errInvalidCredentials
	}
	return &user, nil
}

// CurrentUser loads the session user's row.
func (r *Relay) CurrentUser(ctx context.Context) (*models.User, error) {
	uid, err := currentUser(ctx)
	if err != nil {
		return nil, err
	}
	var user models.User
	err = r.db.WithContext(ctx).First(&user, "id = ?", uid).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, notFound("user")
	}
	if err != nil {
		return nil, apperr.StoreErr("failed to load user", err)
	}
	return &user, nil
}

// UpdateProfile changes the session user's email and/or password. Empty
// arguments leave the field unchanged.
func (r *Relay) UpdateProfile(ctx context.Context, email, password string) (*models.User, error) {
	user, err := r.CurrentUser(ctx)
	if err != nil {
		return nil, err
	}
	if email = utils.NormalizeEmail(email); email != "" && email != user.Email {
		if err := utils.ValidateEmail(email); err != nil {
			return nil, err
		}
		var taken int64
		if err := r.db.WithContext(ctx).Model(&models.User{}).Where("email = ? AND id <> ?", email, user.ID).Count(&taken).Error; err != nil {
			return nil, apperr.StoreErr("failed to check email", err)
		}
		if taken > 0 {
			return nil, apperr.New(apperr.Validation, "Email already exists", apperr.ErrConflict)
		}
		user.Email = email
	}
	if password != "" {
		if err := utils.ValidatePassword(password, nil); err != nil {
			return nil, err
		}
		if err := user.SetPassword(password); err != nil {
			return nil, apperr.StoreErr("failed to set password", err)
		}
	}
	if err := r.db.WithContext(ctx).Save(user).Error; err != nil {
		return nil, apperr.StoreErr("failed to update profile", err)
	}
	return user, nil
}
