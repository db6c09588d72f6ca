package user

import (
	"bufio"
	"os"
	"path/filepath"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"

	"github.com/trezcool/academia/core"
)

var (
	globalRoleTag  = "globalrole"
	globalRoleText = "unknown role"

	notCommonTag  = "notcommon"
	notCommonText = "this password is too common"

	commonPasswords = make(map[string]struct{})
)

// InitValidators registers this package's custom validation tags.
func InitValidators(validate *validator.Validate, translator ut.Translator) {
	_ = validate.RegisterValidation(globalRoleTag, globalRoleValidation)
	core.RegisterCustomTranslation(validate, translator, globalRoleTag, globalRoleText)

	_ = validate.RegisterValidation(notCommonTag, notCommonValidation)
	core.RegisterCustomTranslation(validate, translator, notCommonTag, notCommonText)
}

// LoadCommonPasswords loads assets/common-passwords.txt if present.
// Passwords matching an entry fail the "notcommon" validation.
func LoadCommonPasswords(conf *core.Config, logger core.Logger) {
	path := filepath.Join(conf.WorkDir, "assets", "common-passwords.txt")
	f, err := os.Open(path)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Warn("loading common passwords: " + err.Error())
		}
		return
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if pwd := core.CleanString(scanner.Text(), true /* lower */); pwd != "" {
			commonPasswords[pwd] = struct{}{}
		}
	}
}

func globalRoleValidation(fl validator.FieldLevel) bool {
	return Role(core.CleanString(fl.Field().String(), true /* lower */)).Valid()
}

func notCommonValidation(fl validator.FieldLevel) bool {
	_, found := commonPasswords[core.CleanString(fl.Field().String(), true /* lower */)]
	return !found
}
