package store

import (
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// ExpiresAt returns the expiry recorded on an item. Items without a
// readable numeric ttl never expire.
func ExpiresAt(item map[string]types.AttributeValue) (time.Time, bool) {
	n, ok := item["ttl"].(*types.AttributeValueMemberN)
	if !ok {
		return time.Time{}, false
	}
	ttl, err := strconv.ParseInt(n.Value, 10, 64)
	if err != nil {
		return time.Time{}, false
	}
	return time.Unix(ttl, 0), true
}

// IsExpired checks if an item has a TTL at or before now.
// DynamoDB deletes expired items lazily, so reads must filter them out.
func IsExpired(item map[string]types.AttributeValue, now time.Time) bool {
	at, ok := ExpiresAt(item)
	return ok && at.Unix() <= now.Unix()
}

// TTLFilterExpr returns the filter expression to exclude expired items.
func TTLFilterExpr() string {
	return "attribute_not_exists(#ttl) OR #ttl > :now"
}

// TTLFilterNames returns expression attribute names for the TTL filter.
func TTLFilterNames() map[string]string {
	return map[string]string{"#ttl": "ttl"}
}

// TTLFilterValues returns expression attribute values for the TTL filter.
func TTLFilterValues(now time.Time) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		":now": &types.AttributeValueMemberN{
			Value: strconv.FormatInt(now.Unix(), 10),
		},
	}
}

// AbsentCondition returns the condition expression for insert-if-absent.
// An expired record counts as absent.
func AbsentCondition() string {
	return "attribute_not_exists(sk) OR (attribute_exists(#ttl) AND #ttl <= :now)"
}

// mergeExprNames merges multiple expression attribute name maps.
func mergeExprNames(maps ...map[string]string) map[string]string {
	result := make(map[string]string)
	for _, m := range maps {
		for k, v := range m {
			result[k] = v
		}
	}
	return result
}

// mergeExprValues merges multiple expression attribute value maps.
func mergeExprValues(maps ...map[string]types.AttributeValue) map[string]types.AttributeValue {
	result := make(map[string]types.AttributeValue)
	for _, m := range maps {
		for k, v := range m {
			result[k] = v
		}
	}
	return result
}
