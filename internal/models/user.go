package models

import "time"

type Role string

const (
	RoleStudent      Role = "student"
	RoleCounterStaff Role = "counter_staff"
	RoleAdmin        Role = "admin"
)

/*
|--------------------------------------------------------------------------
| DATABASE MODEL (INTERNAL)
|--------------------------------------------------------------------------
*/
type User struct {
	ID           int64
	StudentID    *string
	Email        string
	PasswordHash string
	FirstName    string
	LastName     string
	Role         Role
	IsActive     bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Principal is the authenticated caller the core acts for.
type Principal struct {
	UserID int64
	Role   Role
}

/*
|--------------------------------------------------------------------------
| REQUEST / RESPONSE DTO
|--------------------------------------------------------------------------
*/
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type UserResponse struct {
	ID        int64   `json:"id"`
	StudentID *string `json:"student_id,omitempty"`
	Email     string  `json:"email"`
	FirstName string  `json:"first_name"`
	LastName  string  `json:"last_name"`
	Role      Role    `json:"role"`
}

type LoginResponse struct {
	Token string       `json:"token"`
	User  UserResponse `json:"user"`
}

func ToUserResponse(u User) UserResponse {
	return UserResponse{
		ID:        u.ID,
		StudentID: u.StudentID,
		Email:     u.Email,
		FirstName: u.FirstName,
		LastName:  u.LastName,
		Role:      u.Role,
	}
}
