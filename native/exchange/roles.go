package exchange

import (
	"aphdex/core/types"
)

func (e *Engine) roleAddress(key []byte) (types.Address, bool, error) {
	raw, err := e.get(key)
	if err != nil {
		return types.Address{}, false, err
	}
	if len(raw) == 0 {
		return types.Address{}, false, nil
	}
	addr, err := types.AddressFromBytes(raw)
	if err != nil {
		return types.Address{}, false, err
	}
	return addr, true, nil
}

// Owner falls back to the configured default owner.
func (e *Engine) Owner() (types.Address, error) {
	addr, ok, err := e.roleAddress(keyOwner)
	if err != nil || ok {
		return addr, err
	}
	return e.params.DefaultOwner, nil
}

// Manager falls back to the owner.
func (e *Engine) Manager() (types.Address, error) {
	addr, ok, err := e.roleAddress(keyManager)
	if err != nil || ok {
		return addr, err
	}
	return e.Owner()
}

// Whitelister falls back to the manager.
func (e *Engine) Whitelister() (types.Address, error) {
	addr, ok, err := e.roleAddress(keyWhitelister)
	if err != nil || ok {
		return addr, err
	}
	return e.Manager()
}

func (e *Engine) verifyRole(get func() (types.Address, error)) (bool, error) {
	addr, err := get()
	if err != nil {
		return false, err
	}
	return e.checkWitness(addr), nil
}

func (e *Engine) verifyOwner() (bool, error)       { return e.verifyRole(e.Owner) }
func (e *Engine) verifyManager() (bool, error)     { return e.verifyRole(e.Manager) }
func (e *Engine) verifyWhitelister() (bool, error) { return e.verifyRole(e.Whitelister) }

// verifyAny is true when any of the roles signed the invocation.
func (e *Engine) verifyAny(roles ...func() (bool, error)) (bool, error) {
	for _, role := range roles {
		ok, err := role()
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

func (e *Engine) verifyOwnerOrManager() (bool, error) {
	return e.verifyAny(e.verifyOwner, e.verifyManager)
}

func (e *Engine) isWhitelisted(user types.Address) (bool, error) {
	raw, err := e.get(whitelistKey(user))
	if err != nil {
		return false, err
	}
	return len(raw) > 0, nil
}
