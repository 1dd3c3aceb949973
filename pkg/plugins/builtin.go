package plugins

import (
	"context"
	"fmt"
	"io/ioutil"
	"path/filepath"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	JSONMaterializerName  = "builtin.JSONMaterializer"
	BytesMaterializerName = "builtin.BytesMaterializer"

	DataTypeDict  = "builtin.dict"
	DataTypeList  = "builtin.list"
	DataTypeBytes = "builtin.bytes"

	JSONDataFile  = "data.json"
	BytesDataFile = "data"

	EchoPredictFunc = "builtin.echo"
)

func init() {
	RegisterMaterializer(JSONMaterializerName, JSONMaterializer{})
	RegisterMaterializer(BytesMaterializerName, BytesMaterializer{})
	RegisterPredictFunc(EchoPredictFunc, Echo)
}

// JSONMaterializer reads dicts and lists stored as data.json.
type JSONMaterializer struct{}

func (JSONMaterializer) DataTypes() []string {
	return []string{DataTypeDict, DataTypeList}
}

func (JSONMaterializer) Load(dir, datatype string) (interface{}, error) {
	data, err := ioutil.ReadFile(filepath.Join(dir, JSONDataFile))
	if err != nil {
		return nil, err
	}
	switch datatype {
	case DataTypeDict:
		res := map[string]interface{}{}
		if err := json.Unmarshal(data, &res); err != nil {
			return nil, err
		}
		return res, nil
	case DataTypeList:
		res := make([]interface{}, 0)
		if err := json.Unmarshal(data, &res); err != nil {
			return nil, err
		}
		return res, nil
	}
	return nil, fmt.Errorf("datatype %q is not supported by %v", datatype, JSONMaterializerName)
}

// BytesMaterializer returns the raw content of the data file.
type BytesMaterializer struct{}

func (BytesMaterializer) DataTypes() []string {
	return []string{DataTypeBytes}
}

func (BytesMaterializer) Load(dir, datatype string) (interface{}, error) {
	if datatype != DataTypeBytes {
		return nil, fmt.Errorf("datatype %q is not supported by %v", datatype, BytesMaterializerName)
	}
	return ioutil.ReadFile(filepath.Join(dir, BytesDataFile))
}

// Echo answers with the request instances as predictions.
func Echo(_ context.Context, _ interface{}, request map[string]interface{}) (interface{}, error) {
	return map[string]interface{}{"predictions": request["instances"]}, nil
}
