package failure

import (
	"golang.org/x/text/language"
)

var supported = []language.Tag{
	language.English, // first entry is the fallback
	language.Spanish,
	language.French,
	language.German,
	language.Italian,
	language.Portuguese,
	language.Japanese,
}

var matcher = language.NewMatcher(supported)

var messages = map[Kind][]string{
	RetryableServer: {
		"The analysis service is having trouble. Please try again.",
		"El servicio de análisis tiene problemas. Inténtalo de nuevo.",
		"Le service d'analyse rencontre un problème. Veuillez réessayer.",
		"Der Analysedienst hat Probleme. Bitte versuche es erneut.",
		"Il servizio di analisi ha problemi. Riprova.",
		"O serviço de análise está com problemas. Tente novamente.",
		"解析サービスに問題が発生しています。もう一度お試しください。",
	},
	FileInvalid: {
		"This photo can't be read. Please pick a different one.",
		"No se puede leer esta foto. Elige otra.",
		"Impossible de lire cette photo. Veuillez en choisir une autre.",
		"Dieses Foto kann nicht gelesen werden. Bitte wähle ein anderes.",
		"Impossibile leggere questa foto. Scegline un'altra.",
		"Não é possível ler esta foto. Escolha outra.",
		"この写真は読み込めません。別の写真を選んでください。",
	},
	Offline: {
		"You're offline. Connect to the internet and try again.",
		"Estás sin conexión. Conéctate a internet e inténtalo de nuevo.",
		"Vous êtes hors ligne. Connectez-vous à Internet et réessayez.",
		"Du bist offline. Verbinde dich mit dem Internet und versuche es erneut.",
		"Sei offline. Connettiti a Internet e riprova.",
		"Você está offline. Conecte-se à internet e tente novamente.",
		"オフラインです。インターネットに接続してもう一度お試しください。",
	},
	StorageFailure: {
		"There isn't enough space to save this photo. Free up space and pick it again.",
		"No hay espacio para guardar esta foto. Libera espacio y vuelve a elegirla.",
		"Pas assez d'espace pour enregistrer cette photo. Libérez de l'espace et choisissez-la à nouveau.",
		"Nicht genug Speicher für dieses Foto. Gib Speicher frei und wähle es erneut.",
		"Spazio insufficiente per salvare questa foto. Libera spazio e sceglila di nuovo.",
		"Não há espaço para salvar esta foto. Libere espaço e escolha-a novamente.",
		"写真を保存する空き容量がありません。容量を空けてもう一度選んでください。",
	},
	LookupMiss: {
		"We don't know this product yet. Take a photo of its label instead.",
		"Aún no conocemos este producto. Toma una foto de su etiqueta.",
		"Nous ne connaissons pas encore ce produit. Photographiez plutôt son étiquette.",
		"Dieses Produkt kennen wir noch nicht. Fotografiere stattdessen das Etikett.",
		"Non conosciamo ancora questo prodotto. Fotografa invece l'etichetta.",
		"Ainda não conhecemos este produto. Tire uma foto do rótulo.",
		"この商品はまだ登録されていません。代わりにラベルを撮影してください。",
	},
	Generic: {
		"Something went wrong. Please try again later.",
		"Algo salió mal. Inténtalo más tarde.",
		"Une erreur s'est produite. Veuillez réessayer plus tard.",
		"Etwas ist schiefgelaufen. Bitte versuche es später erneut.",
		"Qualcosa è andato storto. Riprova più tardi.",
		"Algo deu errado. Tente novamente mais tarde.",
		"問題が発生しました。しばらくしてからもう一度お試しください。",
	},
}

/*
Message returns the user-facing text for kind in the language closest to lang
(a BCP 47 tag or Accept-Language value). Cancelled has no message.
*/
func Message(kind Kind, lang string) string {
	if Silent(kind) {
		return ""
	}
	texts, ok := messages[kind]
	if !ok {
		texts = messages[Generic]
	}
	return texts[languageIndex(lang)]
}

func languageIndex(lang string) int {
	tags, _, err := language.ParseAcceptLanguage(lang)
	if err != nil || len(tags) == 0 {
		return 0
	}
	_, index, confidence := matcher.Match(tags...)
	if confidence == language.No {
		return 0
	}
	return index
}
