package models

import "github.com/lib/pq"

// StringArray хранит список строк в колонке text[].
type StringArray = pq.StringArray
