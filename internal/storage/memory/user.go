package memory

import (
	"context"

	"github.com/go-faster/errors"

	"github.com/xenking/kart-checkout/internal/domain/user"
)

type users struct{ a access }

func (r users) GetByID(_ context.Context, id string) (*user.User, error) {
	var out *user.User
	err := r.a.with(func(st *state) error {
		u, ok := st.users[id]
		if !ok {
			return user.ErrNotFound
		}
		out = u.Clone()
		return nil
	})
	return out, err
}

func (r users) Save(_ context.Context, u *user.User) error {
	return r.a.with(func(st *state) error {
		if _, ok := st.users[u.ID]; !ok {
			return user.ErrNotFound
		}
		st.users[u.ID] = u.Clone()
		return nil
	})
}

func (r users) Create(_ context.Context, u *user.User) error {
	return r.a.with(func(st *state) error {
		if _, ok := st.users[u.ID]; ok {
			return errors.Errorf("user %q already exists", u.ID)
		}
		st.users[u.ID] = u.Clone()
		return nil
	})
}
