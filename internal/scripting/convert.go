package scripting

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/Shopify/go-lua"
)

func goToLua(L *lua.State, value any) {
	switch v := value.(type) {
	case nil:
		L.PushNil()
	case string:
		L.PushString(v)
	case bool:
		L.PushBoolean(v)
	case int:
		L.PushInteger(v)
	case int32:
		L.PushInteger(int(v))
	case int64:
		L.PushInteger(int(v))
	case uint:
		L.PushNumber(float64(v))
	case uint64:
		L.PushNumber(float64(v))
	case float32:
		L.PushNumber(float64(v))
	case float64:
		L.PushNumber(v)
	case json.Number:
		if f, err := v.Float64(); err == nil {
			L.PushNumber(f)
		} else {
			L.PushString(v.String())
		}
	case time.Time:
		L.PushString(v.Format(time.RFC3339Nano))
	case []any:
		pushLuaArray(L, v)
	case []string:
		arr := make([]any, len(v))
		for i, s := range v {
			arr[i] = s
		}
		pushLuaArray(L, arr)
	case map[string]any:
		pushLuaMap(L, v)
	default:
		L.PushString(fmt.Sprintf("%v", v))
	}
}

func pushLuaArray(L *lua.State, arr []any) {
	L.CreateTable(len(arr), 0)
	for i, item := range arr {
		L.PushInteger(i + 1)
		goToLua(L, item)
		L.SetTable(luaArrayTableIndex)
	}
}

func pushLuaMap(L *lua.State, m map[string]any) {
	L.CreateTable(0, len(m))
	for k, val := range m {
		L.PushString(k)
		goToLua(L, val)
		L.SetTable(luaMapTableIndex)
	}
}

func luaNumberToGo(L *lua.State, index int) any {
	num, _ := L.ToNumber(index)
	if num == float64(int(num)) {
		return int(num)
	}
	return num
}

func luaToGo(L *lua.State, index int) any {
	switch L.TypeOf(index) {
	case lua.TypeNil:
		return nil
	case lua.TypeBoolean:
		return L.ToBoolean(index)
	case lua.TypeNumber:
		return luaNumberToGo(L, index)
	case lua.TypeString:
		s, _ := L.ToString(index)
		return s
	case lua.TypeTable:
		return luaTableToAny(L, index)
	default:
		return nil
	}
}

// luaTableToAny converts a table to a list when every key is numeric, and
// to a map otherwise. Empty tables become empty maps.
func luaTableToAny(L *lua.State, index int) any {
	isArray := true
	length := 0

	L.PushNil()
	for L.Next(index - 1) {
		if !L.IsNumber(-2) {
			isArray = false
			L.Pop(2)
			break
		}
		length++
		L.Pop(1)
	}

	if isArray && length > 0 {
		return convertLuaArray(L, index, length)
	}

	result := map[string]any{}
	L.PushNil()
	for L.Next(index - 1) {
		if L.TypeOf(-2) == lua.TypeString {
			key, _ := L.ToString(-2)
			result[key] = luaToGo(L, -1)
		} else {
			result[fmt.Sprintf("%v", luaToGo(L, -2))] = luaToGo(L, -1)
		}
		L.Pop(1)
	}
	return result
}

func convertLuaArray(L *lua.State, index, length int) []any {
	arr := make([]any, length)
	absIndex := index
	if index < 0 {
		absIndex = L.Top() + index + 1
	}
	for i := 1; i <= length; i++ {
		L.RawGetInt(absIndex, i)
		arr[i-1] = luaToGo(L, -1)
		L.Pop(1)
	}
	return arr
}
