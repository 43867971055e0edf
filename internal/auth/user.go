package auth

import (
	"fmt"
	"slices"
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"golang.org/x/crypto/bcrypt"
)

type TdbUserRole int

const (
	TdbUserRoleAdmin TdbUserRole = iota
	TdbUserRoleReadWrite
	TdbUserRoleReadOnly
)

func (r TdbUserRole) String() string {
	switch r {
	case TdbUserRoleAdmin:
		return "admin"
	case TdbUserRoleReadWrite:
		return "readWrite"
	case TdbUserRoleReadOnly:
		return "readOnly"
	}
	return fmt.Sprintf("role(%d)", int(r))
}

// ParseRole accepts a role name or its number.
func ParseRole(v any) (TdbUserRole, error) {
	switch r := v.(type) {
	case string:
		for _, role := range []TdbUserRole{TdbUserRoleAdmin, TdbUserRoleReadWrite, TdbUserRoleReadOnly} {
			if role.String() == r {
				return role, nil
			}
		}
	case float64:
		if r == float64(int(r)) && r >= 0 && int(r) <= int(TdbUserRoleReadOnly) {
			return TdbUserRole(r), nil
		}
	case int:
		if r >= 0 && r <= int(TdbUserRoleReadOnly) {
			return TdbUserRole(r), nil
		}
	case TdbUserRole:
		return ParseRole(int(r))
	}
	return 0, errors.Errorf("Invalid user role: %v", v)
}

var (
	InsufficientPermissions = errors.New("Insufficient permissions to perform this action")
	ErrUserExists           = errors.New("User already exists")
	ErrUnknownUser          = errors.New("User not found")
)

type TdbUser struct {
	Id       string
	Name     string
	Password []byte
	Role     TdbUserRole
}

func NewUser(name, password string, role TdbUserRole) (*TdbUser, error) {
	// password max size is 72 bytes because of bcrypt limit
	hashed_password, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, errors.Wrap(err, "hashing password")
	}
	return &TdbUser{uuid.New().String(), name, hashed_password, role}, nil
}

func (u *TdbUser) ValidateUser(password string) bool {
	return bcrypt.CompareHashAndPassword(u.Password, []byte(password)) == nil
}

func (u *TdbUser) HasClearance(r TdbUserRole) bool { return u != nil && u.Role <= r }

// Users is the set of accounts allowed to connect, keyed by name.
type Users struct {
	locker sync.RWMutex
	users  map[string]*TdbUser
}

func NewUsers() *Users {
	return &Users{users: map[string]*TdbUser{}}
}

func (s *Users) GetLocker() *sync.RWMutex { return &s.locker }

func (s *Users) Add(name, password string, role TdbUserRole) (*TdbUser, error) {
	if name == "" {
		return nil, errors.New("User name cannot be empty")
	}
	s.locker.Lock()
	defer s.locker.Unlock()
	if _, ok := s.users[name]; ok {
		return nil, errors.Wrapf(ErrUserExists, "%s", name)
	}
	u, err := NewUser(name, password, role)
	if err != nil {
		return nil, err
	}
	s.users[name] = u
	return u, nil
}

func (s *Users) Get(name string) *TdbUser {
	s.locker.RLock()
	defer s.locker.RUnlock()
	return s.users[name]
}

func (s *Users) Delete(name string) error {
	s.locker.Lock()
	defer s.locker.Unlock()
	if _, ok := s.users[name]; !ok {
		return errors.Wrapf(ErrUnknownUser, "%s", name)
	}
	delete(s.users, name)
	return nil
}

func (s *Users) SetRole(name string, role TdbUserRole) error {
	s.locker.Lock()
	defer s.locker.Unlock()
	u, ok := s.users[name]
	if !ok {
		return errors.Wrapf(ErrUnknownUser, "%s", name)
	}
	u.Role = role
	return nil
}

// Validate returns the user named name when password matches.
func (s *Users) Validate(name, password string) *TdbUser {
	if name == "" {
		return nil
	}
	u := s.Get(name)
	if u == nil || !u.ValidateUser(password) {
		return nil
	}
	return u
}

// Names lists every user name in order.
func (s *Users) Names() []string {
	s.locker.RLock()
	defer s.locker.RUnlock()
	names := make([]string, 0, len(s.users))
	for name := range s.users {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

func (s *Users) Len() int {
	s.locker.RLock()
	defer s.locker.RUnlock()
	return len(s.users)
}
