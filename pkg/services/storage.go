package services

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"PolyChat/pkg/logger"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	uploadTokenTTL     = 15 * time.Minute
	uploadTokenPurpose = "attachment-upload"
	MaxAttachmentSize  = 10 * 1024 * 1024
)

var (
	ErrInvalidUploadToken = errors.New("invalid upload token")
	ErrUnsupportedFile    = errors.New("unsupported file type")
	ErrFileTooLarge       = errors.New("file too large")
)

var attachmentExts = []string{".jpg", ".jpeg", ".png", ".gif", ".webp", ".pdf", ".txt", ".md"}

// AttachmentStorage keeps message attachments on local disk, one directory
// per user, and serves them under baseURL.
type AttachmentStorage struct {
	basePath  string
	baseURL   string
	secretKey []byte
	now       func() time.Time
	log       *zap.Logger
}

func NewAttachmentStorage(basePath, publicBaseURL, secret string) (*AttachmentStorage, error) {
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}
	return &AttachmentStorage{
		basePath:  basePath,
		baseURL:   strings.TrimRight(publicBaseURL, "/") + "/uploads/files",
		secretKey: []byte(secret),
		now:       time.Now,
		log:       logger.Named("storage"),
	}, nil
}

type uploadClaims struct {
	Purpose string `json:"purpose"`
	jwt.RegisteredClaims
}

// GenerateUploadToken issues a short-lived token that authorizes one user to
// upload attachments.
func (s *AttachmentStorage) GenerateUploadToken(userID string) (*UploadTokenResponse, error) {
	now := s.now()
	exp := now.Add(uploadTokenTTL)
	claims := uploadClaims{
		Purpose: uploadTokenPurpose,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secretKey)
	if err != nil {
		return nil, err
	}
	return &UploadTokenResponse{UploadToken: signed, ExpiresAt: exp, MaxSize: MaxAttachmentSize}, nil
}

func (s *AttachmentStorage) validateUploadToken(token, userID string) bool {
	var claims uploadClaims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		return s.secretKey, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(s.now))
	if err != nil || !parsed.Valid {
		s.log.Debug("upload token rejected", zap.String("user_id", userID), zap.Error(err))
		return false
	}
	return claims.Purpose == uploadTokenPurpose && claims.Subject == userID
}

// SaveAttachment stores the uploaded file and returns its public URL.
func (s *AttachmentStorage) SaveAttachment(userID string, file multipart.File, header *multipart.FileHeader, token string) (*SaveAttachmentResponse, error) {
	if !s.validateUploadToken(token, userID) {
		return nil, ErrInvalidUploadToken
	}
	ext := strings.ToLower(filepath.Ext(header.Filename))
	if !slices.Contains(attachmentExts, ext) {
		return nil, fmt.Errorf("%w %q", ErrUnsupportedFile, ext)
	}
	if header.Size > MaxAttachmentSize {
		return nil, ErrFileTooLarge
	}

	userDir := filepath.Join(s.basePath, userID)
	if err := os.MkdirAll(userDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create user dir: %w", err)
	}
	filename := uuid.NewString() + ext
	dst, err := os.Create(filepath.Join(userDir, filename))
	if err != nil {
		return nil, fmt.Errorf("failed to create file: %w", err)
	}
	defer dst.Close()

	n, err := io.Copy(dst, io.LimitReader(file, MaxAttachmentSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to save file: %w", err)
	}
	if n > MaxAttachmentSize {
		_ = os.Remove(dst.Name())
		return nil, ErrFileTooLarge
	}

	relativePath := userID + "/" + filename
	s.log.Info("attachment stored", zap.String("user_id", userID), zap.String("path", relativePath), zap.Int64("size", n))
	return &SaveAttachmentResponse{
		Filename: header.Filename,
		FilePath: relativePath,
		FileURL:  s.URLFor(relativePath),
		FileSize: n,
	}, nil
}

func (s *AttachmentStorage) URLFor(relativePath string) string {
	if relativePath == "" {
		return ""
	}
	return s.baseURL + "/" + relativePath
}

// Delete removes a stored attachment; missing files are not an error.
func (s *AttachmentStorage) Delete(relativePath string) error {
	if relativePath == "" {
		return nil
	}
	full := filepath.Join(s.basePath, filepath.Clean("/"+relativePath))
	if err := os.Remove(full); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

type UploadTokenResponse struct {
	UploadToken string    `json:"upload_token"`
	ExpiresAt   time.Time `json:"expires_at"`
	MaxSize     int64     `json:"max_size"`
}

type SaveAttachmentResponse struct {
	Filename string `json:"filename"`
	FilePath string `json:"file_path"`
	FileURL  string `json:"file_url"`
	FileSize int64  `json:"file_size"`
}
