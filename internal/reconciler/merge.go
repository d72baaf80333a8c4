package reconciler

import (
	"sort"

	"ngabarin/messaging/internal/models"
)

// insert adds msg keeping msgs ordered by id. A message whose id is already
// present is discarded; the first copy wins.
func insert(msgs []models.Message, msg models.Message) ([]models.Message, bool) {
	i := sort.Search(len(msgs), func(i int) bool { return msgs[i].ID >= msg.ID })
	if i < len(msgs) && msgs[i].ID == msg.ID {
		return msgs, false
	}

	msgs = append(msgs, models.Message{})
	copy(msgs[i+1:], msgs[i:])
	msgs[i] = msg
	return msgs, true
}

// merge folds incoming into msgs and reports how many were new.
func merge(msgs []models.Message, incoming ...models.Message) ([]models.Message, int) {
	added := 0
	for _, m := range incoming {
		var ok bool
		if msgs, ok = insert(msgs, m); ok {
			added++
		}
	}
	return msgs, added
}
