package model

import (
	"context"
	"fmt"
	"time"
)

// User is an account holder. Passwords are stored as bcrypt hashes only.
type User struct {
	ID           int64     `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

// CreateUser inserts a new user.
func CreateUser(ctx context.Context, db DBTX, email, passwordHash string) (User, error) {
	res, err := db.ExecContext(ctx,
		`INSERT INTO users (email, password_hash) VALUES (?, ?)`, email, passwordHash)
	if err != nil {
		return User{}, fmt.Errorf("insert user: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return User{}, fmt.Errorf("user last insert id: %w", err)
	}
	return GetUserByID(ctx, db, id)
}

// GetUserByID fetches a user by primary key.
func GetUserByID(ctx context.Context, db DBTX, id int64) (User, error) {
	var u User
	err := db.QueryRowContext(ctx,
		`SELECT id, email, password_hash, created_at FROM users WHERE id = ?`, id).
		Scan(&u.ID, &u.Email, &u.PasswordHash, &u.CreatedAt)
	if err != nil {
		return User{}, err
	}
	return u, nil
}

// GetUserByEmail fetches a user by email.
func GetUserByEmail(ctx context.Context, db DBTX, email string) (User, error) {
	var u User
	err := db.QueryRowContext(ctx,
		`SELECT id, email, password_hash, created_at FROM users WHERE email = ?`, email).
		Scan(&u.ID, &u.Email, &u.PasswordHash, &u.CreatedAt)
	if err != nil {
		return User{}, err
	}
	return u, nil
}
