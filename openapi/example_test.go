package openapi_test

import (
	"fmt"

	"github.com/gophersatwork/buildcache/openapi"
)

func ExampleCompare() {
	ix := openapi.NewIndexer()

	old, _ := ix.Parse([]byte(`
paths:
  /messages:
    get:
      operationId: listMessages
      summary: List messages
`))
	current, _ := ix.Parse([]byte(`
paths:
  /messages:
    get:
      operationId: listMessages
      summary: List all messages
    post:
      summary: Send a message
`))

	fmt.Print(openapi.Compare(old, current))

	// Output:
	// Added (1): post-/messages
	// Changed (1): listMessages
}
