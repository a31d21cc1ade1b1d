package booking

import (
	"errors"

	"github.com/md-rashed-zaman/voicebook/services/booking-service/internal/storage"
)

func isStoreNotFound(err error) bool {
	return errors.Is(err, storage.ErrNotFound)
}

func isStoreConflict(err error) bool {
	return errors.Is(err, storage.ErrConflict)
}

func isStatusChanged(err error) bool {
	return errors.Is(err, storage.ErrStatusChanged)
}
