package phone

import (
	"context"
	"errors"
	"strconv"

	"github.com/nyaruka/phonenumbers"
	"golang.org/x/text/language"
	"golang.org/x/text/language/display"
)

var typeNames = map[phonenumbers.PhoneNumberType]string{
	phonenumbers.FIXED_LINE:           "Fixed Line",
	phonenumbers.MOBILE:               "Mobile",
	phonenumbers.FIXED_LINE_OR_MOBILE: "Fixed Line or Mobile",
	phonenumbers.TOLL_FREE:            "Toll Free",
	phonenumbers.PREMIUM_RATE:         "Premium Rate",
	phonenumbers.SHARED_COST:          "Shared Cost",
	phonenumbers.VOIP:                 "VoIP",
	phonenumbers.PERSONAL_NUMBER:      "Personal Number",
	phonenumbers.PAGER:                "Pager",
	phonenumbers.UAN:                  "UAN",
	phonenumbers.VOICEMAIL:            "Voicemail",
	phonenumbers.UNKNOWN:              "Unknown",
}

// LibPhoneNumber validates numbers in process with Google's libphonenumber
// metadata.
type LibPhoneNumber struct {
	defaultRegion string
}

// NewLibPhoneNumber creates a validator. defaultRegion applies to numbers
// written without an international prefix; leave it empty to require one.
func NewLibPhoneNumber(defaultRegion string) *LibPhoneNumber {
	return &LibPhoneNumber{defaultRegion: defaultRegion}
}

// Validate parses and describes number.
func (v *LibPhoneNumber) Validate(ctx context.Context, number string) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	parsed, err := phonenumbers.Parse(number, v.defaultRegion)
	if err != nil {
		errType := parseErrorType(err)
		return &Result{
			Success:     false,
			Error:       err.Error(),
			ErrorType:   &errType,
			PhoneNumber: NumberInfo{Original: number},
		}, nil
	}

	region := phonenumbers.GetRegionCodeForNumber(parsed)
	numberType := phonenumbers.GetNumberType(parsed)

	typeName, ok := typeNames[numberType]
	if !ok {
		typeName = "Unknown"
	}

	carrierName, _ := phonenumbers.GetCarrierForNumber(parsed, "en")
	carrierNameAr, _ := phonenumbers.GetCarrierForNumber(parsed, "ar")
	if carrierNameAr == "" {
		carrierNameAr = carrierName
	}
	if carrierName == "" {
		carrierName = "Unknown"
	}

	countryName := describe(parsed, "en", region, display.English)
	countryNameAr := describe(parsed, "ar", region, display.Arabic)
	if countryNameAr == "" {
		countryNameAr = countryName
	}

	timezones, _ := phonenumbers.GetTimezonesForNumber(parsed)
	if timezones == nil {
		timezones = []string{}
	}

	return &Result{
		Success:  true,
		Valid:    phonenumbers.IsValidNumber(parsed),
		Possible: phonenumbers.IsPossibleNumber(parsed),
		PhoneNumber: NumberInfo{
			Original:       number,
			International:  phonenumbers.Format(parsed, phonenumbers.INTERNATIONAL),
			National:       phonenumbers.Format(parsed, phonenumbers.NATIONAL),
			E164:           phonenumbers.Format(parsed, phonenumbers.E164),
			CountryCode:    parsed.GetCountryCode(),
			NationalNumber: strconv.FormatUint(parsed.GetNationalNumber(), 10),
		},
		Location: &Location{
			CountryName:   countryName,
			CountryNameAr: countryNameAr,
			RegionCode:    region,
			FlagEmoji:     FlagEmoji(region),
		},
		Carrier: &Carrier{
			Name:   carrierName,
			NameAr: carrierNameAr,
		},
		Type: &NumberType{
			Code: int(numberType),
			Name: typeName,
		},
		Timezones: timezones,
	}, nil
}

// describe returns the geocoded description of a number, falling back to the
// region's display name in the dictionary's language.
func describe(num *phonenumbers.PhoneNumber, lang, region string, dict *display.Dictionary) string {
	if desc, err := phonenumbers.GetGeocodingForNumber(num, lang); err == nil && desc != "" {
		return desc
	}
	r, err := language.ParseRegion(region)
	if err != nil {
		return ""
	}
	return dict.Regions().Name(r)
}

func parseErrorType(err error) int {
	switch {
	case errors.Is(err, phonenumbers.ErrInvalidCountryCode):
		return ErrorTypeInvalidCountryCode
	case errors.Is(err, phonenumbers.ErrTooShortNSN):
		return ErrorTypeTooShortNSN
	case errors.Is(err, phonenumbers.ErrNumTooLong):
		return ErrorTypeTooLong
	default:
		return ErrorTypeNotANumber
	}
}
