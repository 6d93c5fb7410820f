package admincall

import "context"

// Directory exposes admin phone recognition to the routing resolver.
type Directory struct {
	Store Store
}

func (d Directory) IsAdminPhone(ctx context.Context, ani string) (bool, error) {
	_, ok, err := d.Store.FindUserByPhone(ctx, ani)
	return ok, err
}
