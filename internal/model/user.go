package model

import (
	"time"

	"gorm.io/gorm/schema"
)

type Role string

const (
	RoleAdmin   Role = "ADMIN"
	RoleManager Role = "MANAGER"
	RoleAgent   Role = "AGENT"
	RoleViewer  Role = "VIEWER"
)

// CountsAsOnlineStaff reports whether the role counts toward the online
// agent total used for bot eligibility.
func (r Role) CountsAsOnlineStaff() bool {
	return r == RoleAdmin || r == RoleManager || r == RoleAgent
}

// CanReceiveAssignments reports whether routing may pick a user with this role.
func (r Role) CanReceiveAssignments() bool {
	return r == RoleManager || r == RoleAgent
}

// User is a company member. Agents are users with an assignable role.
type User struct {
	ID           string    `json:"id" gorm:"primaryKey;column:id"`
	CompanyID    string    `json:"company_id" gorm:"column:company_id;index"`
	Name         string    `json:"name" gorm:"column:name"`
	Email        string    `json:"email" gorm:"column:email"`
	Role         Role      `json:"role" gorm:"column:role;type:varchar(16)"`
	Active       bool      `json:"active" gorm:"column:active;default:true"`
	DepartmentID *string   `json:"department_id,omitempty" gorm:"column:department_id;index"`
	CreatedAt    time.Time `json:"created_at" gorm:"column:created_at;autoCreateTime"`
	UpdatedAt    time.Time `json:"updated_at" gorm:"column:updated_at;autoUpdateTime"`
}

func (User) TableName(namer schema.Namer) string {
	return namer.TableName("users")
}

// AgentLoad pairs an agent with the number of OPEN/PENDING conversations it holds.
type AgentLoad struct {
	AgentID     string `gorm:"column:agent_id"`
	ActiveCount int64  `gorm:"column:active_count"`
}
